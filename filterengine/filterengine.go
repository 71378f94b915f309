// Package filterengine evaluates C2: user-configured sync filters (date windows,
// team/folder include/exclude) and indexing filters (which record subtypes get
// indexed), plus the filter-option enumeration used by the UI to populate
// include/exclude pickers (§6 get_filter_options).
package filterengine

import (
	"time"

	"eve.evalgo.org/ingest/model"
)

// ScopeDescriptor is the minimal shape a connector scope must expose for the
// filter engine to evaluate include/exclude and date-window rules against it.
type ScopeDescriptor struct {
	FolderOrTeamID string
	UpdatedAtMs    int64
}

// SyncFilter narrows what a connector instance pulls from its source.
type SyncFilter struct {
	After   *time.Time
	Before  *time.Time
	Include []string // folder/team IDs; empty means "all"
	Exclude []string
}

// Evaluate reports whether scope passes the configured sync filter. Exclude
// always wins over Include when both name the same scope.
func Evaluate(scope ScopeDescriptor, filter SyncFilter) bool {
	for _, ex := range filter.Exclude {
		if ex == scope.FolderOrTeamID {
			return false
		}
	}
	if len(filter.Include) > 0 {
		included := false
		for _, in := range filter.Include {
			if in == scope.FolderOrTeamID {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	if filter.After != nil && scope.UpdatedAtMs < filter.After.UnixMilli() {
		return false
	}
	if filter.Before != nil && scope.UpdatedAtMs > filter.Before.UnixMilli() {
		return false
	}
	return true
}

// IndexFilter narrows which record subtypes/mime types get an indexing event.
type IndexFilter struct {
	AllowedRecordTypes []model.RecordType // empty means "all"
	AllowedMimeTypes   []string           // empty means "all"
}

// ShouldIndex reports whether record passes the configured indexing filter.
// A record already marked AUTO_INDEX_OFF by its source never passes, regardless
// of filter configuration — that decision belongs to the Entity Processor
// contract (§4.2 step 4), not the filter engine, but short-circuiting here saves
// a round trip for connectors that want to skip the event entirely.
func ShouldIndex(record *model.Record, filter IndexFilter) bool {
	if record.IndexingStatus == model.IndexingStatusAutoOff {
		return false
	}
	if len(filter.AllowedRecordTypes) > 0 {
		ok := false
		for _, t := range filter.AllowedRecordTypes {
			if t == record.RecordType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(filter.AllowedMimeTypes) > 0 {
		ok := false
		for _, m := range filter.AllowedMimeTypes {
			if m == record.MimeType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
