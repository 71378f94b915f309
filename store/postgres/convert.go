package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"eve.evalgo.org/ingest/model"
)

func idOrNew(id uuid.UUID) string {
	if id == uuid.Nil {
		return uuid.NewString()
	}
	return id.String()
}

func userToRow(u *model.AppUser) userRow {
	return userRow{
		ID:              idOrNew(u.ID),
		OrgID:           u.OrgID,
		ConnectorID:     u.ConnectorID,
		ConnectorName:   u.ConnectorName,
		Email:           u.Email,
		SourceUserID:    u.SourceUserID,
		FullName:        u.FullName,
		IsActive:        u.IsActive,
		Title:           u.Title,
		Version:         u.Version,
		CreatedAtMs:     u.CreatedAtMs,
		UpdatedAtMs:     u.UpdatedAtMs,
		SourceCreatedAt: u.SourceCreatedAt,
		SourceUpdatedAt: u.SourceUpdatedAt,
	}
}

func rowToUser(row userRow) *model.AppUser {
	id, _ := uuid.Parse(row.ID)
	return &model.AppUser{
		EntityMeta: model.EntityMeta{
			ID:              id,
			OrgID:           row.OrgID,
			ConnectorID:     row.ConnectorID,
			ConnectorName:   row.ConnectorName,
			Version:         row.Version,
			CreatedAtMs:     row.CreatedAtMs,
			UpdatedAtMs:     row.UpdatedAtMs,
			SourceCreatedAt: row.SourceCreatedAt,
			SourceUpdatedAt: row.SourceUpdatedAt,
		},
		Email:        row.Email,
		FullName:     row.FullName,
		SourceUserID: row.SourceUserID,
		IsActive:     row.IsActive,
		Title:        row.Title,
	}
}

func userGroupToRow(g *model.AppUserGroup) groupRow {
	return groupRow{
		ID:                idOrNew(g.ID),
		OrgID:             g.OrgID,
		ConnectorID:       g.ConnectorID,
		ConnectorName:     g.ConnectorName,
		SourceUserGroupID: g.SourceUserGroupID,
		ExternalGroupID:   g.ExternalID,
		Name:              g.Name,
		Description:       g.Description,
		ParentExternalID:  g.ParentExternalID,
		Version:           g.Version,
		CreatedAtMs:       g.CreatedAtMs,
		UpdatedAtMs:       g.UpdatedAtMs,
		SourceCreatedAt:   g.SourceCreatedAt,
		SourceUpdatedAt:   g.SourceUpdatedAt,
	}
}

func rowToUserGroup(row groupRow) *model.AppUserGroup {
	id, _ := uuid.Parse(row.ID)
	return &model.AppUserGroup{
		EntityMeta: model.EntityMeta{
			ID:              id,
			OrgID:           row.OrgID,
			ConnectorID:     row.ConnectorID,
			ConnectorName:   row.ConnectorName,
			ExternalID:      row.ExternalGroupID,
			Version:         row.Version,
			CreatedAtMs:     row.CreatedAtMs,
			UpdatedAtMs:     row.UpdatedAtMs,
			SourceCreatedAt: row.SourceCreatedAt,
			SourceUpdatedAt: row.SourceUpdatedAt,
		},
		SourceUserGroupID: row.SourceUserGroupID,
		Name:              row.Name,
		Description:       row.Description,
		ParentExternalID:  row.ParentExternalID,
	}
}

func recordGroupToRow(g *model.RecordGroup) recordGroupRow {
	return recordGroupRow{
		ID:                    idOrNew(g.ID),
		OrgID:                 g.OrgID,
		ConnectorID:           g.ConnectorID,
		ConnectorName:         g.ConnectorName,
		ExternalGroupID:       g.ExternalGroupID,
		Name:                  g.Name,
		ShortName:             g.ShortName,
		GroupType:             string(g.GroupType),
		ParentExternalGroupID: g.ParentExternalGroupID,
		WebURL:                g.WebURL,
		InheritPermissions:    g.InheritPermissions,
		Version:               g.Version,
		CreatedAtMs:           g.CreatedAtMs,
		UpdatedAtMs:           g.UpdatedAtMs,
		SourceCreatedAt:       g.SourceCreatedAt,
		SourceUpdatedAt:       g.SourceUpdatedAt,
	}
}

func rowToRecordGroup(row recordGroupRow) *model.RecordGroup {
	id, _ := uuid.Parse(row.ID)
	return &model.RecordGroup{
		EntityMeta: model.EntityMeta{
			ID:              id,
			OrgID:           row.OrgID,
			ConnectorID:     row.ConnectorID,
			ConnectorName:   row.ConnectorName,
			ExternalID:      row.ExternalGroupID,
			Version:         row.Version,
			CreatedAtMs:     row.CreatedAtMs,
			UpdatedAtMs:     row.UpdatedAtMs,
			SourceCreatedAt: row.SourceCreatedAt,
			SourceUpdatedAt: row.SourceUpdatedAt,
		},
		ExternalGroupID:       row.ExternalGroupID,
		Name:                  row.Name,
		ShortName:             row.ShortName,
		GroupType:             model.RecordGroupType(row.GroupType),
		ParentExternalGroupID: row.ParentExternalGroupID,
		WebURL:                row.WebURL,
		InheritPermissions:    row.InheritPermissions,
	}
}

// recordToRow marshals a Record's typed Payload to JSON so it fits in one
// jsonb column; rowToRecord unmarshals it back into the concrete type its
// RecordType names, matching the tagged-union As* accessors on model.Record.
func recordToRow(r *model.Record) (recordRow, error) {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return recordRow{}, fmt.Errorf("postgres: marshal payload for %s: %w", r.ExternalID, err)
	}
	path := ""
	if f, ok := r.AsFile(); ok {
		path = f.Path
	}
	return recordRow{
		ID:                    idOrNew(r.ID),
		OrgID:                 r.OrgID,
		ConnectorID:           r.ConnectorID,
		ConnectorName:         r.ConnectorName,
		ExternalID:            r.ExternalID,
		ParentExternalID:      r.ParentExternalRecordID,
		ParentRecordType:      string(r.ParentRecordType),
		Path:                  path,
		RecordType:            string(r.RecordType),
		RecordName:            r.RecordName,
		RecordGroupType:       string(r.RecordGroupType),
		ExternalRecordGroupID: r.ExternalRecordGroupID,
		MimeType:              r.MimeType,
		WebURL:                r.WebURL,
		PreviewRenderable:     r.PreviewRenderable,
		IsDependentNode:       r.IsDependentNode,
		ParentNodeID:          r.ParentNodeID,
		InheritPermissions:    r.InheritPermissions,
		IndexingStatus:        string(r.IndexingStatus),
		ExternalRevisionID:    r.ExternalRevisionID,
		PayloadJSON:           string(payloadJSON),
		Version:               r.Version,
		CreatedAtMs:           r.CreatedAtMs,
		UpdatedAtMs:           r.UpdatedAtMs,
		SourceCreatedAt:       r.SourceCreatedAt,
		SourceUpdatedAt:       r.SourceUpdatedAt,
	}, nil
}

func rowToRecord(row recordRow) (*model.Record, error) {
	id, _ := uuid.Parse(row.ID)
	rec := &model.Record{
		EntityMeta: model.EntityMeta{
			ID:              id,
			OrgID:           row.OrgID,
			ConnectorID:     row.ConnectorID,
			ConnectorName:   row.ConnectorName,
			ExternalID:      row.ExternalID,
			Version:         row.Version,
			CreatedAtMs:     row.CreatedAtMs,
			UpdatedAtMs:     row.UpdatedAtMs,
			SourceCreatedAt: row.SourceCreatedAt,
			SourceUpdatedAt: row.SourceUpdatedAt,
		},
		RecordType:             model.RecordType(row.RecordType),
		RecordName:             row.RecordName,
		RecordGroupType:        model.RecordGroupType(row.RecordGroupType),
		ExternalRecordGroupID:  row.ExternalRecordGroupID,
		ParentExternalRecordID: row.ParentExternalID,
		ParentRecordType:       model.RecordType(row.ParentRecordType),
		MimeType:               row.MimeType,
		WebURL:                 row.WebURL,
		PreviewRenderable:      row.PreviewRenderable,
		IsDependentNode:        row.IsDependentNode,
		ParentNodeID:           row.ParentNodeID,
		InheritPermissions:     row.InheritPermissions,
		IndexingStatus:         model.IndexingStatus(row.IndexingStatus),
		ExternalRevisionID:     row.ExternalRevisionID,
	}
	if row.PayloadJSON != "" {
		payload, err := unmarshalPayload(rec.RecordType, row.PayloadJSON)
		if err != nil {
			return nil, fmt.Errorf("postgres: unmarshal payload for %s: %w", row.ExternalID, err)
		}
		rec.Payload = payload
	}
	return rec, nil
}

func unmarshalPayload(recordType model.RecordType, raw string) (any, error) {
	switch recordType {
	case model.RecordTypeFile:
		var p model.FileRecord
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return &p, nil
	case model.RecordTypeMail:
		var p model.MailRecord
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return &p, nil
	case model.RecordTypeTicket:
		var p model.TicketRecord
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return &p, nil
	case model.RecordTypeComment:
		var p model.CommentRecord
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return &p, nil
	case model.RecordTypeLink:
		var p model.LinkRecord
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return &p, nil
	case model.RecordTypeWebpage:
		return &model.WebpageRecord{}, nil
	default:
		return nil, fmt.Errorf("unknown record type %q", recordType)
	}
}
