// Package storetest provides an in-memory store.Store used by processor,
// connector, and connectors/* tests (including the §8 end-to-end scenarios).
// It is not meant to be a realistic storage engine — it exists to make the
// write-path contract of §4.2 and the invariants of §3 independently testable
// without a real graph database.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
)

// MemStore is an in-memory implementation of store.Store.
type MemStore struct {
	mu sync.Mutex

	users        map[string]map[string]*model.AppUser        // connectorID -> externalID(sourceUserID) -> user
	usersByEmail map[string]map[string]*model.AppUser         // connectorID -> email -> user
	groups       map[string]map[string]*model.AppUserGroup    // connectorID -> externalID -> group
	recordGroups map[string]map[string]*model.RecordGroup     // connectorID -> externalGroupID -> group
	records      map[string]map[string]*model.Record          // connectorID -> externalID -> record
	pathIndex    map[string]map[string]*model.Record           // connectorName -> path -> record
	edges        map[string][]store.PermissionEdge            // resourceKind+resourceID -> edges
	relations    []relation
}

type relation struct {
	FromID, ToID string
	Type         model.RecordRelationType
}

// New builds an empty in-memory store.
func New() *MemStore {
	return &MemStore{
		users:        make(map[string]map[string]*model.AppUser),
		usersByEmail: make(map[string]map[string]*model.AppUser),
		groups:       make(map[string]map[string]*model.AppUserGroup),
		recordGroups: make(map[string]map[string]*model.RecordGroup),
		records:      make(map[string]map[string]*model.Record),
		pathIndex:    make(map[string]map[string]*model.Record),
		edges:        make(map[string][]store.PermissionEdge),
	}
}

// BeginTransaction locks the store for the duration of the transaction. A real
// adapter would snapshot/rollback; this fake's Rollback is a no-op release
// since tests assert against store state assembled through Commit paths only.
func (s *MemStore) BeginTransaction(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

type memTx struct {
	s    *MemStore
	done bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
	return nil
}

func (t *memTx) GetRecordByExternalID(ctx context.Context, connectorID, externalID string) (*model.Record, bool, error) {
	byID, ok := t.s.records[connectorID]
	if !ok {
		return nil, false, nil
	}
	r, ok := byID[externalID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (t *memTx) GetRecordByID(ctx context.Context, orgID, recordID string) (*model.Record, bool, error) {
	for _, byExternalID := range t.s.records {
		for _, r := range byExternalID {
			if r.OrgID == orgID && r.ID.String() == recordID {
				cp := *r
				return &cp, true, nil
			}
		}
	}
	return nil, false, nil
}

func (t *memTx) GetRecordGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.RecordGroup, bool, error) {
	byID, ok := t.s.recordGroups[connectorID]
	if !ok {
		return nil, false, nil
	}
	g, ok := byID[externalGroupID]
	if !ok {
		return nil, false, nil
	}
	cp := *g
	return &cp, true, nil
}

func (t *memTx) GetUserByEmail(ctx context.Context, connectorID, email string) (*model.AppUser, bool, error) {
	byEmail, ok := t.s.usersByEmail[connectorID]
	if !ok {
		return nil, false, nil
	}
	u, ok := byEmail[email]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

func (t *memTx) GetUserBySourceID(ctx context.Context, connectorID, sourceUserID string) (*model.AppUser, bool, error) {
	byID, ok := t.s.users[connectorID]
	if !ok {
		return nil, false, nil
	}
	u, ok := byID[sourceUserID]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

func (t *memTx) GetUserGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.AppUserGroup, bool, error) {
	byID, ok := t.s.groups[connectorID]
	if !ok {
		return nil, false, nil
	}
	g, ok := byID[externalGroupID]
	if !ok {
		return nil, false, nil
	}
	cp := *g
	return &cp, true, nil
}

func (t *memTx) BatchUpsertRecords(ctx context.Context, records []*model.Record) error {
	for _, r := range records {
		if r.ConnectorID == "" || r.ExternalID == "" {
			return fmt.Errorf("storetest: record missing connector_id/external_id")
		}
		byID, ok := t.s.records[r.ConnectorID]
		if !ok {
			byID = make(map[string]*model.Record)
			t.s.records[r.ConnectorID] = byID
		}
		cp := *r
		byID[r.ExternalID] = &cp

		if f, ok := r.AsFile(); ok && f.Path != "" {
			byPath, ok := t.s.pathIndex[r.ConnectorName]
			if !ok {
				byPath = make(map[string]*model.Record)
				t.s.pathIndex[r.ConnectorName] = byPath
			}
			byPath[f.Path] = &cp
		}
	}
	return nil
}

func (t *memTx) BatchUpsertRecordGroups(ctx context.Context, groups []*model.RecordGroup) error {
	for _, g := range groups {
		byID, ok := t.s.recordGroups[g.ConnectorID]
		if !ok {
			byID = make(map[string]*model.RecordGroup)
			t.s.recordGroups[g.ConnectorID] = byID
		}
		cp := *g
		byID[g.ExternalGroupID] = &cp
	}
	return nil
}

func (t *memTx) BatchUpsertUserGroups(ctx context.Context, groups []*model.AppUserGroup) error {
	for _, g := range groups {
		byID, ok := t.s.groups[g.ConnectorID]
		if !ok {
			byID = make(map[string]*model.AppUserGroup)
			t.s.groups[g.ConnectorID] = byID
		}
		cp := *g
		byID[g.ExternalID] = &cp
	}
	return nil
}

func (t *memTx) BatchUpsertUsers(ctx context.Context, users []*model.AppUser) error {
	for _, u := range users {
		byID, ok := t.s.users[u.ConnectorID]
		if !ok {
			byID = make(map[string]*model.AppUser)
			t.s.users[u.ConnectorID] = byID
		}
		cp := *u
		byID[u.SourceUserID] = &cp

		byEmail, ok := t.s.usersByEmail[u.ConnectorID]
		if !ok {
			byEmail = make(map[string]*model.AppUser)
			t.s.usersByEmail[u.ConnectorID] = byEmail
		}
		byEmail[u.Email] = &cp
	}
	return nil
}

func edgeKey(kind store.ResourceKind, resourceID string) string {
	return string(kind) + "\x00" + resourceID
}

func (t *memTx) BatchCreateEdges(ctx context.Context, edges []store.PermissionEdge, collection store.EdgeCollection) error {
	for _, e := range edges {
		k := edgeKey(e.ToResourceKind, e.ToResourceID)
		t.s.edges[k] = append(t.s.edges[k], e)
	}
	return nil
}

func (t *memTx) DeleteEdge(ctx context.Context, edge store.PermissionEdge, collection store.EdgeCollection) error {
	k := edgeKey(edge.ToResourceKind, edge.ToResourceID)
	existing := t.s.edges[k]
	out := existing[:0]
	for _, e := range existing {
		if e.FromEntityType == edge.FromEntityType && e.FromEntityID == edge.FromEntityID && e.Type == edge.Type {
			continue
		}
		out = append(out, e)
	}
	t.s.edges[k] = out
	return nil
}

func (t *memTx) GetPermissionsForResource(ctx context.Context, resourceKind store.ResourceKind, resourceID string) ([]store.PermissionEdge, error) {
	k := edgeKey(resourceKind, resourceID)
	existing := t.s.edges[k]
	out := make([]store.PermissionEdge, len(existing))
	copy(out, existing)
	return out, nil
}

func (t *memTx) CreateRecordRelation(ctx context.Context, fromID, toID string, relType model.RecordRelationType) error {
	t.s.relations = append(t.s.relations, relation{FromID: fromID, ToID: toID, Type: relType})
	return nil
}

func (t *memTx) GetRecordsByParent(ctx context.Context, connectorID, parentExternalID string, recordType model.RecordType) ([]*model.Record, error) {
	byID, ok := t.s.records[connectorID]
	if !ok {
		return nil, nil
	}
	var out []*model.Record
	for _, r := range byID {
		if r.ParentExternalRecordID == parentExternalID && (recordType == "" || r.RecordType == recordType) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) GetRecordByPath(ctx context.Context, connectorName, path string) (*model.Record, bool, error) {
	byPath, ok := t.s.pathIndex[connectorName]
	if !ok {
		return nil, false, nil
	}
	r, ok := byPath[path]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Relations exposes the recorded record_relations edges for test assertions.
func (s *MemStore) Relations() []struct {
	FromID, ToID string
	Type         model.RecordRelationType
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]struct {
		FromID, ToID string
		Type         model.RecordRelationType
	}, len(s.relations))
	for i, r := range s.relations {
		out[i] = struct {
			FromID, ToID string
			Type         model.RecordRelationType
		}{r.FromID, r.ToID, r.Type}
	}
	return out
}

// AllRecords exposes every stored record for a connector, for test assertions.
func (s *MemStore) AllRecords(connectorID string) []*model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[connectorID]
	out := make([]*model.Record, 0, len(byID))
	for _, r := range byID {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
