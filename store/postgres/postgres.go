// Package postgres is the one concrete store.Store adapter built on GORM,
// wired because SPEC_FULL needs something runnable for tests/integration and
// the teacher already depends on gorm.io/gorm + gorm.io/driver/postgres
// (db/postgres.go). It persists the graph store.Tx specifies: users, groups,
// record groups, records, permission edges, and record relations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
)

// userRow, groupRow, recordGroupRow, and recordRow mirror model's entity
// shapes as GORM models; Payload is stored as JSON text since its concrete
// type varies by RecordType.
type userRow struct {
	ID              string `gorm:"primaryKey"`
	OrgID           string `gorm:"index"`
	ConnectorID     string `gorm:"index"`
	ConnectorName   string
	Email           string `gorm:"index"`
	SourceUserID    string `gorm:"index"`
	FullName        string
	IsActive        bool
	Title           string
	Version         int64
	CreatedAtMs     int64
	UpdatedAtMs     int64
	SourceCreatedAt int64
	SourceUpdatedAt int64
}

func (userRow) TableName() string { return "app_users" }

type groupRow struct {
	ID                string `gorm:"primaryKey"`
	OrgID             string `gorm:"index"`
	ConnectorID       string `gorm:"index"`
	ConnectorName     string
	SourceUserGroupID string `gorm:"index"`
	ExternalGroupID   string `gorm:"index"`
	Name              string
	Description       string
	ParentExternalID  string
	Version           int64
	CreatedAtMs       int64
	UpdatedAtMs       int64
	SourceCreatedAt   int64
	SourceUpdatedAt   int64
}

func (groupRow) TableName() string { return "app_user_groups" }

type recordGroupRow struct {
	ID                    string `gorm:"primaryKey"`
	OrgID                 string `gorm:"index"`
	ConnectorID           string `gorm:"index"`
	ConnectorName         string
	ExternalGroupID       string `gorm:"index"`
	Name                  string
	ShortName             string
	GroupType             string
	ParentExternalGroupID string
	WebURL                string
	InheritPermissions    bool
	Version               int64
	CreatedAtMs           int64
	UpdatedAtMs           int64
	SourceCreatedAt       int64
	SourceUpdatedAt       int64
}

func (recordGroupRow) TableName() string { return "record_groups" }

type recordRow struct {
	ID                     string `gorm:"primaryKey"`
	OrgID                  string `gorm:"index"`
	ConnectorID            string `gorm:"index"`
	ConnectorName          string
	ExternalID             string `gorm:"index"`
	ParentExternalID       string `gorm:"index"`
	ParentRecordType       string
	Path                   string `gorm:"index"`
	RecordType             string
	RecordName             string
	RecordGroupType        string
	ExternalRecordGroupID  string `gorm:"index"`
	MimeType               string
	WebURL                 string
	PreviewRenderable      bool
	IsDependentNode        bool
	ParentNodeID           string
	InheritPermissions     bool
	IndexingStatus         string
	ExternalRevisionID     string
	PayloadJSON            string `gorm:"type:jsonb"`
	Version                int64
	SourceCreatedAt        int64
	SourceUpdatedAt        int64
	CreatedAtMs            int64
	UpdatedAtMs            int64
}

func (recordRow) TableName() string { return "records" }

type permissionEdgeRow struct {
	ID             uint `gorm:"primaryKey;autoIncrement"`
	Collection     string `gorm:"index"`
	FromEntityType string
	FromEntityID   string `gorm:"index"`
	ToResourceKind string
	ToResourceID   string `gorm:"index"`
	Type           string
	ExternalID     string
}

func (permissionEdgeRow) TableName() string { return "permission_edges" }

type recordRelationRow struct {
	ID       uint `gorm:"primaryKey;autoIncrement"`
	FromID   string `gorm:"index"`
	ToID     string `gorm:"index"`
	Relation string
}

func (recordRelationRow) TableName() string { return "record_relations" }

// Store is the GORM-backed store.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres via pgURL and runs AutoMigrate for every table
// this adapter owns, the way db.PGMigrations does for RabbitLog.
func Open(pgURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(pgURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&userRow{}, &groupRow{}, &recordGroupRow{}, &recordRow{}, &permissionEdgeRow{}, &recordRelationRow{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginTransaction starts a GORM transaction and wraps it as a store.Tx.
func (s *Store) BeginTransaction(ctx context.Context) (store.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("postgres: begin transaction: %w", tx.Error)
	}
	return &Tx{db: tx}, nil
}

// Tx implements store.Tx against one GORM transaction handle.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.db.Rollback().Error; err != nil {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

func (t *Tx) GetRecordByExternalID(ctx context.Context, connectorID, externalID string) (*model.Record, bool, error) {
	var row recordRow
	err := t.db.Where("connector_id = ? AND external_id = ?", connectorID, externalID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get record by external id: %w", err)
	}
	rec, err := rowToRecord(row)
	return rec, true, err
}

func (t *Tx) GetRecordByID(ctx context.Context, orgID, recordID string) (*model.Record, bool, error) {
	var row recordRow
	err := t.db.Where("org_id = ? AND id = ?", orgID, recordID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get record by id: %w", err)
	}
	rec, err := rowToRecord(row)
	return rec, true, err
}

func (t *Tx) GetRecordGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.RecordGroup, bool, error) {
	var row recordGroupRow
	err := t.db.Where("connector_id = ? AND external_group_id = ?", connectorID, externalGroupID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get record group: %w", err)
	}
	return rowToRecordGroup(row), true, nil
}

func (t *Tx) GetUserByEmail(ctx context.Context, connectorID, email string) (*model.AppUser, bool, error) {
	var row userRow
	err := t.db.Where("connector_id = ? AND email = ?", connectorID, email).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get user by email: %w", err)
	}
	return rowToUser(row), true, nil
}

func (t *Tx) GetUserBySourceID(ctx context.Context, connectorID, sourceUserID string) (*model.AppUser, bool, error) {
	var row userRow
	err := t.db.Where("connector_id = ? AND source_user_id = ?", connectorID, sourceUserID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get user by source id: %w", err)
	}
	return rowToUser(row), true, nil
}

func (t *Tx) GetUserGroupByExternalID(ctx context.Context, connectorID, externalGroupID string) (*model.AppUserGroup, bool, error) {
	var row groupRow
	err := t.db.Where("connector_id = ? AND external_group_id = ?", connectorID, externalGroupID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get user group: %w", err)
	}
	return rowToUserGroup(row), true, nil
}

func (t *Tx) BatchUpsertRecords(ctx context.Context, records []*model.Record) error {
	for _, r := range records {
		row, err := recordToRow(r)
		if err != nil {
			return err
		}
		if err := t.db.Save(&row).Error; err != nil {
			return fmt.Errorf("postgres: upsert record %s: %w", r.ExternalID, err)
		}
	}
	return nil
}

func (t *Tx) BatchUpsertRecordGroups(ctx context.Context, groups []*model.RecordGroup) error {
	for _, g := range groups {
		row := recordGroupToRow(g)
		if err := t.db.Save(&row).Error; err != nil {
			return fmt.Errorf("postgres: upsert record group %s: %w", g.ExternalGroupID, err)
		}
	}
	return nil
}

func (t *Tx) BatchUpsertUserGroups(ctx context.Context, groups []*model.AppUserGroup) error {
	for _, g := range groups {
		row := userGroupToRow(g)
		if err := t.db.Save(&row).Error; err != nil {
			return fmt.Errorf("postgres: upsert user group %s: %w", g.ExternalGroupID, err)
		}
	}
	return nil
}

func (t *Tx) BatchUpsertUsers(ctx context.Context, users []*model.AppUser) error {
	for _, u := range users {
		row := userToRow(u)
		if err := t.db.Save(&row).Error; err != nil {
			return fmt.Errorf("postgres: upsert user %s: %w", u.Email, err)
		}
	}
	return nil
}

func (t *Tx) BatchCreateEdges(ctx context.Context, edges []store.PermissionEdge, collection store.EdgeCollection) error {
	for _, e := range edges {
		row := permissionEdgeRow{
			Collection:     string(collection),
			FromEntityType: string(e.FromEntityType),
			FromEntityID:   e.FromEntityID,
			ToResourceKind: string(e.ToResourceKind),
			ToResourceID:   e.ToResourceID,
			Type:           string(e.Type),
			ExternalID:     e.ExternalID,
		}
		if err := t.db.Create(&row).Error; err != nil {
			return fmt.Errorf("postgres: create edge: %w", err)
		}
	}
	return nil
}

func (t *Tx) DeleteEdge(ctx context.Context, edge store.PermissionEdge, collection store.EdgeCollection) error {
	err := t.db.Where(
		"collection = ? AND from_entity_type = ? AND from_entity_id = ? AND to_resource_kind = ? AND to_resource_id = ? AND type = ?",
		string(collection), string(edge.FromEntityType), edge.FromEntityID, string(edge.ToResourceKind), edge.ToResourceID, string(edge.Type),
	).Delete(&permissionEdgeRow{}).Error
	if err != nil {
		return fmt.Errorf("postgres: delete edge: %w", err)
	}
	return nil
}

func (t *Tx) GetPermissionsForResource(ctx context.Context, resourceKind store.ResourceKind, resourceID string) ([]store.PermissionEdge, error) {
	var rows []permissionEdgeRow
	if err := t.db.Where("to_resource_kind = ? AND to_resource_id = ?", string(resourceKind), resourceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres: get permissions for resource: %w", err)
	}
	out := make([]store.PermissionEdge, len(rows))
	for i, r := range rows {
		out[i] = store.PermissionEdge{
			FromEntityType: model.PermissionEntityType(r.FromEntityType),
			FromEntityID:   r.FromEntityID,
			ToResourceKind: store.ResourceKind(r.ToResourceKind),
			ToResourceID:   r.ToResourceID,
			Type:           model.PermissionType(r.Type),
			ExternalID:     r.ExternalID,
		}
	}
	return out, nil
}

func (t *Tx) CreateRecordRelation(ctx context.Context, fromID, toID string, relation model.RecordRelationType) error {
	row := recordRelationRow{FromID: fromID, ToID: toID, Relation: string(relation)}
	if err := t.db.Create(&row).Error; err != nil {
		return fmt.Errorf("postgres: create record relation: %w", err)
	}
	return nil
}

func (t *Tx) GetRecordsByParent(ctx context.Context, connectorID, parentExternalID string, recordType model.RecordType) ([]*model.Record, error) {
	var rows []recordRow
	q := t.db.Where("connector_id = ? AND parent_external_id = ?", connectorID, parentExternalID)
	if recordType != "" {
		q = q.Where("record_type = ?", string(recordType))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres: get records by parent: %w", err)
	}
	out := make([]*model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Tx) GetRecordByPath(ctx context.Context, connectorName, path string) (*model.Record, bool, error) {
	var row recordRow
	err := t.db.Where("connector_name = ? AND path = ?", connectorName, path).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get record by path: %w", err)
	}
	rec, err := rowToRecord(row)
	return rec, true, err
}
