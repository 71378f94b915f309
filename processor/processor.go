// Package processor implements C3, the Entity Processor: the exclusive write
// path into the Store (§3 "Ownership"). It dedupes, versions, and upserts
// Users/Groups/RecordGroups/Records and permission edges, and emits the domain
// events connectors rely on for indexing fan-out (§4.2).
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
)

func newUUID() uuid.UUID {
	return uuid.New()
}

// RecordSubmission is one (Record, Permission[]) tuple as submitted by a
// connector to OnNewRecords (§4.2).
type RecordSubmission struct {
	Record      *model.Record
	Permissions []model.Permission
}

// RecordGroupSubmission is one (RecordGroup, Permission[]) tuple.
type RecordGroupSubmission struct {
	Group       *model.RecordGroup
	Permissions []model.Permission
}

// GroupMember is one membership entry submitted alongside a new AppUserGroup.
type GroupMember struct {
	Email          string
	PermissionType model.PermissionType
}

// GroupSubmission is one (AppUserGroup, members[]) tuple.
type GroupSubmission struct {
	Group   *model.AppUserGroup
	Members []GroupMember
}

type pendingChild struct {
	submission RecordSubmission
}

// Processor is the write path every connector submits to.
type Processor struct {
	store  store.Store
	events *Bus
	log    *logrus.Entry

	mu              sync.Mutex
	pendingChildren map[string][]pendingChild // keyed by (connectorID, parentExternalID)
}

// New builds an Entity Processor writing through s and publishing on bus.
func New(s store.Store, bus *Bus, log *logrus.Entry) *Processor {
	if bus == nil {
		bus = NewBus()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		store:           s,
		events:          bus,
		log:             log,
		pendingChildren: make(map[string][]pendingChild),
	}
}

func pendingKey(connectorID, parentExternalID string) string {
	return connectorID + "\x00" + parentExternalID
}

// OnNewAppUsers upserts a batch of users (§4.2).
func (p *Processor) OnNewAppUsers(ctx context.Context, users []*model.AppUser) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("processor: begin tx: %w", err)
	}
	if err := tx.BatchUpsertUsers(ctx, users); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("processor: upsert users: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: commit users: %w", err)
	}
	if len(users) > 0 {
		p.events.Publish(Event{Kind: EventNewAppUsers, OrgID: users[0].OrgID, Payload: users})
	}
	return nil
}

// OnNewUserGroups upserts each group and publishes EventNewUserGroups with the
// submission. Membership edges are not written to the store.
func (p *Processor) OnNewUserGroups(ctx context.Context, groups []GroupSubmission) error {
	for _, g := range groups {
		if err := p.upsertOneGroup(ctx, g); err != nil {
			p.log.WithError(err).WithField("external_group_id", g.Group.ExternalID).Warn("skipping group, write failed")
			return err
		}
	}
	return nil
}

func (p *Processor) upsertOneGroup(ctx context.Context, g GroupSubmission) error {
	tx, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("processor: begin tx: %w", err)
	}
	if err := tx.BatchUpsertUserGroups(ctx, []*model.AppUserGroup{g.Group}); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("processor: upsert group: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: commit group: %w", err)
	}
	p.events.Publish(Event{Kind: EventNewUserGroups, OrgID: g.Group.OrgID, Payload: g})
	return nil
}

// OnNewRecordGroups upserts record groups and replaces their permission edges.
func (p *Processor) OnNewRecordGroups(ctx context.Context, groups []RecordGroupSubmission) error {
	for _, g := range groups {
		if err := p.upsertOneRecordGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) upsertOneRecordGroup(ctx context.Context, g RecordGroupSubmission) error {
	tx, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("processor: begin tx: %w", err)
	}
	if err := tx.BatchUpsertRecordGroups(ctx, []*model.RecordGroup{g.Group}); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("processor: upsert record group: %w", err)
	}
	if err := p.replacePermissions(ctx, tx, store.ResourceRecordGroup, g.Group.ID.String(), g.Permissions); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("processor: diff permissions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: commit record group: %w", err)
	}
	p.events.Publish(Event{Kind: EventNewRecordGroups, OrgID: g.Group.OrgID, Payload: g})
	return nil
}

// changeSet is the classification computed for one observed record (§4.1
// "Change classification").
type changeSet struct {
	isNew               bool
	metadataChanged     bool
	contentChanged      bool
	permissionsChanged  bool
}

func (c changeSet) anyChange() bool {
	return c.isNew || c.metadataChanged || c.contentChanged || c.permissionsChanged
}

func classify(existing *model.Record, newRecord *model.Record, oldPerms, newPerms []model.Permission) changeSet {
	if existing == nil {
		return changeSet{isNew: true}
	}
	cs := changeSet{
		metadataChanged: existing.RecordName != newRecord.RecordName ||
			existing.ExternalRecordGroupID != newRecord.ExternalRecordGroupID,
		contentChanged:     existing.ExternalRevisionID != newRecord.ExternalRevisionID,
		permissionsChanged: !model.PermissionsEqual(oldPerms, newPerms),
	}
	return cs
}

// OnNewRecords is the write-path contract of §4.2: upsert-by-external-id
// preserving internal ID, edge-diff permission replacement, deferred
// parent-before-child linking, and indexing-event emission — each per record
// atomically.
func (p *Processor) OnNewRecords(ctx context.Context, submissions []RecordSubmission) error {
	for _, sub := range submissions {
		if sub.Record == nil || sub.Record.ConnectorID == "" || sub.Record.ExternalID == "" {
			p.log.Warn("processor: skipping record submission missing connector_id/external_id")
			continue
		}
		if err := p.writeOneRecord(ctx, sub); err != nil {
			return err
		}
	}
	p.drainResolvableChildren(ctx)
	return nil
}

func (p *Processor) writeOneRecord(ctx context.Context, sub RecordSubmission) error {
	tx, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("processor: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := tx.GetRecordByExternalID(ctx, sub.Record.ConnectorID, sub.Record.ExternalID)
	if err != nil {
		return fmt.Errorf("processor: lookup existing record: %w", err)
	}
	var oldPerms []model.Permission
	if found {
		oldPerms, err = existingPermissions(ctx, tx, existing.ID.String())
		if err != nil {
			return fmt.Errorf("processor: load existing permissions: %w", err)
		}
	}

	cs := classify(existing, sub.Record, oldPerms, sub.Permissions)
	if !cs.anyChange() {
		return tx.Commit(ctx) // no-op re-observation: no version bump, no event (§4.2)
	}

	if found {
		sourceUpdated := sub.Record.SourceUpdatedAt
		sub.Record.EntityMeta = existing.EntityMeta
		sub.Record.Touch(sourceUpdated)
	} else {
		if sub.Record.ID == uuid.Nil {
			sub.Record.ID = newUUID()
		}
		sub.Record.Version = 0
		now := model.NowMs()
		sub.Record.CreatedAtMs = now
		sub.Record.UpdatedAtMs = now
	}

	if err := tx.BatchUpsertRecords(ctx, []*model.Record{sub.Record}); err != nil {
		return fmt.Errorf("processor: upsert record: %w", err)
	}

	if err := p.replacePermissions(ctx, tx, store.ResourceRecord, sub.Record.ID.String(), sub.Permissions); err != nil {
		return fmt.Errorf("processor: replace permissions: %w", err)
	}

	if err := p.linkParent(ctx, tx, sub); err != nil {
		return fmt.Errorf("processor: link parent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: commit record: %w", err)
	}
	committed = true

	p.publishRecordEvents(sub.Record, cs)
	p.resolveChildrenOf(sub.Record)
	return nil
}

func (p *Processor) publishRecordEvents(r *model.Record, cs changeSet) {
	switch {
	case cs.isNew:
		p.events.Publish(Event{Kind: EventNewRecords, OrgID: r.OrgID, Payload: r})
	case cs.contentChanged:
		p.events.Publish(Event{Kind: EventRecordContentUpdate, OrgID: r.OrgID, Payload: r})
	case cs.metadataChanged:
		p.events.Publish(Event{Kind: EventRecordMetadataUpdate, OrgID: r.OrgID, Payload: r})
	}
	if cs.permissionsChanged {
		p.events.Publish(Event{Kind: EventRecordPermissionsUpdate, OrgID: r.OrgID, Payload: r})
	}
	if r.IndexingStatus != model.IndexingStatusAutoOff {
		p.events.Publish(Event{Kind: EventIndexingRequested, OrgID: r.OrgID, Payload: r.ID.String()})
	}
}

// linkParent implements §3 invariant 3 and §4.2 step 3: a record whose parent
// isn't in the store yet is queued rather than linked.
func (p *Processor) linkParent(ctx context.Context, tx store.Tx, sub RecordSubmission) error {
	if sub.Record.ParentExternalRecordID == "" {
		return nil
	}
	parentRecord, ok, err := tx.GetRecordByExternalID(ctx, sub.Record.ConnectorID, sub.Record.ParentExternalRecordID)
	if err != nil {
		return err
	}
	if ok {
		if detectCycle(ctx, tx, sub.Record.ConnectorID, sub.Record.ExternalID, parentRecord.ExternalID) {
			p.log.WithField("record_id", sub.Record.ID.String()).Warn("processor: refusing to create cyclic parent edge")
			return nil
		}
		return tx.CreateRecordRelation(ctx, parentRecord.ID.String(), sub.Record.ID.String(), model.RelationParent)
	}
	parentGroup, ok, err := tx.GetRecordGroupByExternalID(ctx, sub.Record.ConnectorID, sub.Record.ParentExternalRecordID)
	if err != nil {
		return err
	}
	if ok {
		return tx.CreateRecordRelation(ctx, parentGroup.ID.String(), sub.Record.ID.String(), model.RelationParent)
	}
	p.mu.Lock()
	key := pendingKey(sub.Record.ConnectorID, sub.Record.ParentExternalRecordID)
	p.pendingChildren[key] = append(p.pendingChildren[key], pendingChild{submission: sub})
	p.mu.Unlock()
	return nil
}

// resolveChildrenOf re-links any record that was queued waiting for r to exist.
func (p *Processor) resolveChildrenOf(r *model.Record) {
	key := pendingKey(r.ConnectorID, r.ExternalID)
	p.mu.Lock()
	waiting := p.pendingChildren[key]
	delete(p.pendingChildren, key)
	p.mu.Unlock()
	if len(waiting) == 0 {
		return
	}
	ctx := context.Background()
	for _, w := range waiting {
		tx, err := p.store.BeginTransaction(ctx)
		if err == nil {
			if err = p.linkParent(ctx, tx, w.submission); err == nil {
				err = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
			}
		}
		if err != nil {
			p.log.WithError(err).Warn("processor: failed resolving queued child record")
		}
	}
}

// drainResolvableChildren is a defensive sweep in case parent and child arrived
// in the same batch out of order within one OnNewRecords call.
func (p *Processor) drainResolvableChildren(ctx context.Context) {
	p.mu.Lock()
	keys := make([]string, 0, len(p.pendingChildren))
	for k := range p.pendingChildren {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	for _, k := range keys {
		p.mu.Lock()
		waiting, ok := p.pendingChildren[k]
		p.mu.Unlock()
		if !ok || len(waiting) == 0 {
			continue
		}
		tx, err := p.store.BeginTransaction(ctx)
		if err != nil {
			continue
		}
		first := waiting[0].submission
		_, parentFound, _ := tx.GetRecordByExternalID(ctx, first.Record.ConnectorID, first.Record.ParentExternalRecordID)
		_ = tx.Rollback(ctx)
		if !parentFound {
			continue
		}
		p.mu.Lock()
		delete(p.pendingChildren, k)
		p.mu.Unlock()
		for _, w := range waiting {
			tx, err := p.store.BeginTransaction(ctx)
			if err == nil {
				if err = p.linkParent(ctx, tx, w.submission); err == nil {
					err = tx.Commit(ctx)
				} else {
					_ = tx.Rollback(ctx)
				}
			}
			if err != nil {
				p.log.WithError(err).Warn("processor: failed resolving queued child record")
			}
		}
	}
}

// OnRecordContentUpdate re-submits a record whose content changed, reusing the
// same write path as OnNewRecords so classification stays centralized.
func (p *Processor) OnRecordContentUpdate(ctx context.Context, record *model.Record, perms []model.Permission) error {
	return p.OnNewRecords(ctx, []RecordSubmission{{Record: record, Permissions: perms}})
}

// OnRecordMetadataUpdate re-submits a record whose metadata changed.
func (p *Processor) OnRecordMetadataUpdate(ctx context.Context, record *model.Record, perms []model.Permission) error {
	return p.OnNewRecords(ctx, []RecordSubmission{{Record: record, Permissions: perms}})
}

// OnUpdatedRecordPermissions replaces a record's permission edges without
// touching content/metadata.
func (p *Processor) OnUpdatedRecordPermissions(ctx context.Context, record *model.Record, perms []model.Permission) error {
	tx, err := p.store.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("processor: begin tx: %w", err)
	}
	if err := p.replacePermissions(ctx, tx, store.ResourceRecord, record.ID.String(), perms); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("processor: replace permissions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("processor: commit permissions: %w", err)
	}
	p.events.Publish(Event{Kind: EventRecordPermissionsUpdate, OrgID: record.OrgID, Payload: record})
	return nil
}

// OnRecordDeleted publishes EventRecordDeleted for recordID. It does not write
// to the store: the record and its edges stay in place.
func (p *Processor) OnRecordDeleted(ctx context.Context, orgID, recordID string) error {
	p.events.Publish(Event{Kind: EventRecordDeleted, OrgID: orgID, Payload: recordID})
	return nil
}

// OnUserGroupMemberAdded publishes EventGroupMemberAdded; it does not write a
// membership edge to the store.
func (p *Processor) OnUserGroupMemberAdded(ctx context.Context, orgID, externalGroupID, email string, permType model.PermissionType, connectorName string) error {
	p.events.Publish(Event{Kind: EventGroupMemberAdded, OrgID: orgID, Payload: map[string]any{
		"external_group_id": externalGroupID,
		"email":             email,
		"permission_type":   permType,
		"connector_name":    connectorName,
	}})
	return nil
}

// OnUserGroupMemberRemoved publishes EventGroupMemberRemoved; it does not
// remove anything from the store.
func (p *Processor) OnUserGroupMemberRemoved(ctx context.Context, orgID, externalGroupID, email string, connectorName string) error {
	p.events.Publish(Event{Kind: EventGroupMemberRemoved, OrgID: orgID, Payload: map[string]any{
		"external_group_id": externalGroupID,
		"email":             email,
		"connector_name":    connectorName,
	}})
	return nil
}

// OnUserGroupDeleted publishes EventGroupDeleted; the stored group is left
// unchanged.
func (p *Processor) OnUserGroupDeleted(ctx context.Context, orgID, externalGroupID, connectorName string) error {
	p.events.Publish(Event{Kind: EventGroupDeleted, OrgID: orgID, Payload: map[string]any{
		"external_group_id": externalGroupID,
		"connector_name":    connectorName,
	}})
	return nil
}

// UpdateRecordGroupName publishes EventRecordGroupRenamed for a record group
// rename (e.g. a Dropbox team folder rename); the stored record group's name
// is not updated.
func (p *Processor) UpdateRecordGroupName(ctx context.Context, orgID, externalGroupID, newName, oldName, connectorName string) error {
	p.events.Publish(Event{Kind: EventRecordGroupRenamed, OrgID: orgID, Payload: map[string]any{
		"external_group_id": externalGroupID,
		"new_name":          newName,
		"old_name":          oldName,
		"connector_name":    connectorName,
	}})
	return nil
}

func existingPermissions(ctx context.Context, tx store.Tx, resourceID string) ([]model.Permission, error) {
	edges, err := tx.GetPermissionsForResource(ctx, store.ResourceRecord, resourceID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Permission, 0, len(edges))
	for _, e := range edges {
		perm := model.Permission{EntityType: e.FromEntityType, ExternalID: e.ExternalID, Type: e.Type}
		if perm.ExternalID == "" {
			perm.Email = e.FromEntityID // replacePermissions stores the email there when no external id is given
		}
		out = append(out, perm)
	}
	return out, nil
}

// replacePermissions implements §4.2 step 2: diff the new permission set
// against the currently stored edges, delete removed, insert added, no-op on
// identical — never a blind delete-all-then-insert-all.
func (p *Processor) replacePermissions(ctx context.Context, tx store.Tx, kind store.ResourceKind, resourceID string, newPerms []model.Permission) error {
	current, err := tx.GetPermissionsForResource(ctx, kind, resourceID)
	if err != nil {
		return err
	}
	currentSet := make(map[string]store.PermissionEdge, len(current))
	for _, e := range current {
		currentSet[permEdgeKey(e.FromEntityType, e.FromEntityID, e.Type)] = e
	}
	newSet := make(map[string]model.Permission, len(newPerms))
	for _, np := range newPerms {
		idOrEmail := np.ExternalID
		if idOrEmail == "" {
			idOrEmail = np.Email
		}
		newSet[permEdgeKey(np.EntityType, idOrEmail, np.Type)] = np
	}

	for key, edge := range currentSet {
		if _, stillPresent := newSet[key]; !stillPresent {
			if err := tx.DeleteEdge(ctx, edge, kind2collection(kind)); err != nil {
				return err
			}
		}
	}
	var toAdd []store.PermissionEdge
	for key, np := range newSet {
		if _, already := currentSet[key]; already {
			continue
		}
		idOrEmail := np.ExternalID
		if idOrEmail == "" {
			idOrEmail = np.Email
		}
		toAdd = append(toAdd, store.PermissionEdge{
			FromEntityType: np.EntityType,
			FromEntityID:   idOrEmail,
			ToResourceKind: kind,
			ToResourceID:   resourceID,
			Type:           np.Type,
			ExternalID:     np.ExternalID,
		})
	}
	if len(toAdd) > 0 {
		if err := tx.BatchCreateEdges(ctx, toAdd, kind2collection(kind)); err != nil {
			return err
		}
	}
	return nil
}

func permEdgeKey(entityType model.PermissionEntityType, idOrEmail string, permType model.PermissionType) string {
	return string(entityType) + "\x00" + idOrEmail + "\x00" + string(permType)
}

func kind2collection(kind store.ResourceKind) store.EdgeCollection {
	return store.CollectionPermissions
}

// detectCycle walks the descendant chain starting at childExternalID looking
// for candidateParentExternalID. If found, linking candidateParent -> child
// would close a cycle in the folder hierarchy (§9 design note: "the write path
// must detect a cycle via visited set and refuse to create the offending
// edge"). Self-parenting is the trivial one-hop case of the same check.
func detectCycle(ctx context.Context, tx store.Tx, connectorID, childExternalID, candidateParentExternalID string) bool {
	if childExternalID == candidateParentExternalID {
		return true
	}
	visited := map[string]bool{childExternalID: true}
	frontier := []string{childExternalID}
	for len(frontier) > 0 && len(visited) < 100000 {
		next := frontier[0]
		frontier = frontier[1:]
		children, err := tx.GetRecordsByParent(ctx, connectorID, next, "")
		if err != nil {
			return false
		}
		for _, c := range children {
			if c.ExternalID == candidateParentExternalID {
				return true
			}
			if !visited[c.ExternalID] {
				visited[c.ExternalID] = true
				frontier = append(frontier, c.ExternalID)
			}
		}
	}
	return false
}
