package syncpoint

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkpointRow is the GORM row behind PostgresStore, keyed the same way
// MemStore keys its in-memory map. DataJSON carries the arbitrary checkpoint
// map (CursorPoint/HistoryPoint/WatermarkPoint/... ToMap output).
type checkpointRow struct {
	ConnectorID   string `gorm:"primaryKey;column:connector_id"`
	OrgID         string `gorm:"primaryKey;column:org_id"`
	DataPointType string `gorm:"primaryKey;column:data_point_type"`
	Scope         string `gorm:"primaryKey;column:scope"`
	DataJSON      string `gorm:"column:data_json;type:jsonb"`
	UpdatedAtMs   int64  `gorm:"column:updated_at_ms"`
}

func (checkpointRow) TableName() string { return "sync_points" }

// PostgresStore is the durable Store implementation backing production
// daemons — MemStore exists purely for runtime/pattern tests, never for a
// restart-surviving process. Follows store/postgres's own GORM-over-Postgres
// shape (pool tuning, AutoMigrate) rather than inventing a second one.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgresStore connects to pgURL and migrates the checkpoint table.
func OpenPostgresStore(pgURL string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(pgURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// ReadSyncPoint returns the persisted checkpoint for key, or ok=false if none
// has ever been written.
func (s *PostgresStore) ReadSyncPoint(key Key) (map[string]any, bool, error) {
	var row checkpointRow
	err := s.db.Where(
		"connector_id = ? AND org_id = ? AND data_point_type = ? AND scope = ?",
		key.ConnectorID, key.OrgID, key.DataPointType, key.Scope,
	).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// UpdateSyncPoint atomically overwrites the checkpoint for key. The
// (connector_id, org_id, data_point_type, scope) primary key makes the
// upsert a single row replace, so readers never observe a partial write.
func (s *PostgresStore) UpdateSyncPoint(key Key, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	row := checkpointRow{
		ConnectorID:   key.ConnectorID,
		OrgID:         key.OrgID,
		DataPointType: key.DataPointType,
		Scope:         key.Scope,
		DataJSON:      string(raw),
		UpdatedAtMs:   time.Now().UnixMilli(),
	}
	// The primary key here is a meaningful business key (never a zero value),
	// so plain Save would always emit an UPDATE and silently write nothing on
	// a checkpoint's first-ever save; OnConflict makes this a real upsert.
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connector_id"}, {Name: "org_id"}, {Name: "data_point_type"}, {Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"data_json", "updated_at_ms"}),
	}).Create(&row).Error
}
