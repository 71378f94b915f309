// Package store defines the Store collaborator interface (§6): the graph
// database that persists users, groups, record groups, records, permission
// edges, and record relations. The concrete graph database is out of scope
// (§1) — this package only specifies the contract the Entity Processor
// depends on, plus the one reference adapter under store/postgres and the
// in-memory fake under store/storetest.
package store

import (
	"context"

	"eve.evalgo.org/ingest/model"
)

// EdgeCollection names one of the two edge collections in the persisted-state
// layout (§6): permissions (entity -> resource) and record_relations
// (parent/sibling/attachment).
type EdgeCollection string

const (
	CollectionPermissions     EdgeCollection = "permissions"
	CollectionRecordRelations EdgeCollection = "record_relations"
)

// ResourceKind says whether a permission/relation edge targets a Record or a
// RecordGroup.
type ResourceKind string

const (
	ResourceRecord      ResourceKind = "RECORD"
	ResourceRecordGroup ResourceKind = "RECORD_GROUP"
)

// EdgeEndpoint is one side of a permission edge: an entity (user/group/org) or
// a resource (record/record group), addressed by internal ID.
type EdgeEndpoint struct {
	EntityType model.PermissionEntityType
	ResourceID *model.Record      // set when this endpoint is the resource side and it's a Record
	GroupID    *model.RecordGroup // set when this endpoint is the resource side and it's a RecordGroup
	EntityID   string             // internal id of the USER/GROUP, or "" for ORG
}

// PermissionEdge is a persisted permission grant. The grantee side is not
// resolved to an internal ID: the Entity Processor stores the grantee's source
// external ID, or its email when the permission carries no external ID.
type PermissionEdge struct {
	FromEntityType model.PermissionEntityType
	FromEntityID   string // grantee's external id, else its email
	ToResourceKind ResourceKind
	ToResourceID   string // internal id of the Record or RecordGroup
	Type           model.PermissionType
	ExternalID     string
}

// Store begins transactions against the persisted graph.
type Store interface {
	BeginTransaction(ctx context.Context) (Tx, error)
}

// Tx is the per-call transactional handle the Entity Processor uses to read
// and write the graph (§6 Store Interface). Each record + its permissions + its
// parent edge must be atomic within one Tx (§4.2 step 5); the whole batch need
// not be a single transaction.
type Tx interface {
	GetRecordByExternalID(ctx context.Context, connectorID, externalID string) (*model.Record, bool, error)
	// GetRecordByID looks a record up by its internal ID scoped to orgID,
	// used by the Signed URL Router to resolve a token's recordId claim
	// without knowing which connector minted the record.
	GetRecordByID(ctx context.Context, orgID, recordID string) (*model.Record, bool, error)
	GetRecordGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.RecordGroup, bool, error)
	GetUserByEmail(ctx context.Context, connectorID, email string) (*model.AppUser, bool, error)
	GetUserBySourceID(ctx context.Context, connectorID, sourceUserID string) (*model.AppUser, bool, error)
	GetUserGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.AppUserGroup, bool, error)

	BatchUpsertRecords(ctx context.Context, records []*model.Record) error
	BatchUpsertRecordGroups(ctx context.Context, groups []*model.RecordGroup) error
	BatchUpsertUserGroups(ctx context.Context, groups []*model.AppUserGroup) error
	BatchUpsertUsers(ctx context.Context, users []*model.AppUser) error

	BatchCreateEdges(ctx context.Context, edges []PermissionEdge, collection EdgeCollection) error
	DeleteEdge(ctx context.Context, edge PermissionEdge, collection EdgeCollection) error

	CreateRecordRelation(ctx context.Context, fromID, toID string, relation model.RecordRelationType) error
	GetRecordsByParent(ctx context.Context, connectorID, parentExternalID string, recordType model.RecordType) ([]*model.Record, error)
	GetRecordByPath(ctx context.Context, connectorName, path string) (*model.Record, bool, error)

	// GetPermissionsForResource returns the currently stored permission edges
	// for a record or record group, used by the Entity Processor to diff
	// against newly observed permissions (§4.2 step 2).
	GetPermissionsForResource(ctx context.Context, resourceKind ResourceKind, resourceID string) ([]PermissionEdge, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
