// Package syncpoint implements C1: the durable per-connector, per-scope checkpoint
// (cursor, delta-token, timestamp, or page-token) that lets an incremental sync
// resume exactly where it left off. It is a pure persistence contract — no sync
// logic lives here, only the key shape and the read/write interface (§4.5).
package syncpoint

import "fmt"

// Key identifies a checkpoint within (connector_id, org_id, data_point_type, key),
// matching the persisted-state layout of §6.
type Key struct {
	ConnectorID   string
	OrgID         string
	DataPointType string
	Scope         string // structured string, e.g. "users_{team_member_id}" (String() gives "DRIVE_users_{team_member_id}")
}

// String renders the structured key format used in §4.5 examples.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s", k.DataPointType, k.Scope)
}

// Store is the persistence contract consumed by the Connector Runtime. Every
// implementation must make UpdateSyncPoint atomic: readers observe either the
// old value or the new one, never a partially written one (§4.5).
type Store interface {
	ReadSyncPoint(key Key) (map[string]any, bool, error)
	UpdateSyncPoint(key Key, data map[string]any) error
}

// CursorPoint is the checkpoint shape for Pattern A (opaque cursor pagination).
type CursorPoint struct {
	Cursor string `json:"cursor"`
}

// ToMap renders the checkpoint for UpdateSyncPoint.
func (c CursorPoint) ToMap() map[string]any {
	return map[string]any{"cursor": c.Cursor}
}

// CursorPointFrom extracts a CursorPoint from a raw checkpoint map.
func CursorPointFrom(data map[string]any) (CursorPoint, bool) {
	v, ok := data["cursor"].(string)
	return CursorPoint{Cursor: v}, ok
}

// HistoryPoint is the checkpoint shape for Pattern B event-log sources that use
// a global history identifier (Gmail historyId).
type HistoryPoint struct {
	HistoryID string `json:"historyId"`
}

func (h HistoryPoint) ToMap() map[string]any {
	return map[string]any{"historyId": h.HistoryID}
}

func HistoryPointFrom(data map[string]any) (HistoryPoint, bool) {
	v, ok := data["historyId"].(string)
	return HistoryPoint{HistoryID: v}, ok
}

// EventCursorPoint is the checkpoint shape for Pattern B event-log sources that
// use an opaque cursor instead of a historyId (Dropbox team events, Drive changes).
type EventCursorPoint struct {
	Cursor string `json:"cursor"`
}

func (e EventCursorPoint) ToMap() map[string]any {
	return map[string]any{"cursor": e.Cursor}
}

func EventCursorPointFrom(data map[string]any) (EventCursorPoint, bool) {
	v, ok := data["cursor"].(string)
	return EventCursorPoint{Cursor: v}, ok
}

// WatermarkPoint is the checkpoint shape for Pattern C (timestamp high-watermark).
type WatermarkPoint struct {
	LastSyncTimeMs int64 `json:"last_sync_time"`
}

func (w WatermarkPoint) ToMap() map[string]any {
	return map[string]any{"last_sync_time": w.LastSyncTimeMs}
}

func WatermarkPointFrom(data map[string]any) (WatermarkPoint, bool) {
	switch v := data["last_sync_time"].(type) {
	case int64:
		return WatermarkPoint{LastSyncTimeMs: v}, true
	case float64:
		return WatermarkPoint{LastSyncTimeMs: int64(v)}, true
	default:
		return WatermarkPoint{}, false
	}
}

// PagePoint is the checkpoint shape for simple offset/page-token pagination used
// by a handful of connectors for non-delta list endpoints.
type PagePoint struct {
	PageToken string `json:"page_token"`
}

func (p PagePoint) ToMap() map[string]any {
	return map[string]any{"page_token": p.PageToken}
}

func PagePointFrom(data map[string]any) (PagePoint, bool) {
	v, ok := data["page_token"].(string)
	return PagePoint{PageToken: v}, ok
}
