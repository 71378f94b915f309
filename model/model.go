// Package model defines the canonical entity and permission graph shared by every
// connector, the Entity Processor, and the Retrieval Assembler. Every entity the
// engine persists embeds EntityMeta so identity, versioning, and source timestamps
// are tracked uniformly regardless of which source produced it.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityMeta carries the fields common to every entity kind in the graph.
type EntityMeta struct {
	ID              uuid.UUID `json:"id"`
	OrgID           string    `json:"org_id"`
	ConnectorID     string    `json:"connector_id"`
	ConnectorName   string    `json:"connector_name"`
	ExternalID      string    `json:"external_record_id"`
	Version         int64     `json:"version"`
	CreatedAtMs     int64     `json:"created_at"`
	UpdatedAtMs     int64     `json:"updated_at"`
	SourceCreatedAt int64     `json:"source_created_at"`
	SourceUpdatedAt int64     `json:"source_updated_at"`
}

// NowMs returns the current engine time in epoch milliseconds. Centralized so a
// single write call captures one timestamp for every field that needs "now".
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Touch bumps Version and UpdatedAtMs for a changed entity. Callers must have
// already confirmed something actually changed (§3 invariant 2: version only
// increases on observed change, never on a no-op re-write).
func (m *EntityMeta) Touch(sourceUpdatedAtMs int64) {
	m.Version++
	m.UpdatedAtMs = NowMs()
	if sourceUpdatedAtMs > m.SourceUpdatedAt {
		m.SourceUpdatedAt = sourceUpdatedAtMs
	}
}

// AppUser is the uniform user type every connector emits (§3 "User (AppUser)").
type AppUser struct {
	EntityMeta
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	SourceUserID string `json:"source_user_id"`
	IsActive     bool   `json:"is_active"`
	Title        string `json:"title,omitempty"`
}

// AppUserGroup models groups, roles, organizational units, and teams uniformly;
// the distinction lives in Name prefixing convention (ROLE_, COMPANY_, ...), never
// in a separate Go type.
type AppUserGroup struct {
	EntityMeta
	SourceUserGroupID string     `json:"source_user_group_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	ParentExternalID  string     `json:"parent_external_id,omitempty"`
}

// RecordGroupType enumerates the container kinds a RecordGroup may represent.
type RecordGroupType string

const (
	RecordGroupDrive             RecordGroupType = "DRIVE"
	RecordGroupMailbox           RecordGroupType = "MAILBOX"
	RecordGroupProject           RecordGroupType = "PROJECT"
	RecordGroupServiceNowKB      RecordGroupType = "SERVICENOWKB"
	RecordGroupServiceNowCategory RecordGroupType = "SERVICENOW_CATEGORY"
)

// RecordGroup is a container of records: a drive, a team folder, a mailbox label,
// a knowledge base, a Linear team, a ticket project (§3 "RecordGroup").
type RecordGroup struct {
	EntityMeta
	ExternalGroupID        string          `json:"external_group_id"`
	Name                   string          `json:"name"`
	ShortName              string          `json:"short_name,omitempty"`
	GroupType              RecordGroupType `json:"group_type"`
	ParentExternalGroupID  string          `json:"parent_external_group_id,omitempty"`
	WebURL                 string          `json:"web_url,omitempty"`
	InheritPermissions     bool            `json:"inherit_permissions"`
}

// RecordType discriminates the tagged-union Record payload (§9 design note:
// "represent as a tagged sum type with a shared header struct").
type RecordType string

const (
	RecordTypeFile    RecordType = "FILE"
	RecordTypeMail    RecordType = "MAIL"
	RecordTypeTicket  RecordType = "TICKET"
	RecordTypeComment RecordType = "COMMENT"
	RecordTypeLink    RecordType = "LINK"
	RecordTypeWebpage RecordType = "WEBPAGE"
)

// IndexingStatus tracks where a record is in the indexing pipeline.
type IndexingStatus string

const (
	IndexingStatusNotIndexed  IndexingStatus = "NOT_INDEXED"
	IndexingStatusInProgress  IndexingStatus = "IN_PROGRESS"
	IndexingStatusIndexed     IndexingStatus = "INDEXED"
	IndexingStatusFailed      IndexingStatus = "FAILED"
	IndexingStatusAutoOff     IndexingStatus = "AUTO_INDEX_OFF"
)

// Record is the common envelope for every record subtype. Payload carries the
// subtype-specific fields (FileRecord, MailRecord, ...); RecordType says which.
type Record struct {
	EntityMeta
	RecordType              RecordType      `json:"record_type"`
	RecordName              string          `json:"record_name"`
	RecordGroupType         RecordGroupType `json:"record_group_type"`
	ExternalRecordGroupID   string          `json:"external_record_group_id"`
	ParentExternalRecordID  string          `json:"parent_external_record_id,omitempty"`
	ParentRecordType        RecordType      `json:"parent_record_type,omitempty"`
	MimeType                string          `json:"mime_type"`
	WebURL                  string          `json:"weburl,omitempty"`
	PreviewRenderable       bool            `json:"preview_renderable"`
	IsDependentNode         bool            `json:"is_dependent_node"`
	ParentNodeID            string          `json:"parent_node_id,omitempty"`
	InheritPermissions      bool            `json:"inherit_permissions"`
	IndexingStatus          IndexingStatus  `json:"indexing_status"`
	ExternalRevisionID      string          `json:"external_revision_id,omitempty"`
	Payload                 any             `json:"payload,omitempty"`
}

// AsFile returns the FileRecord payload if this is a FILE record.
func (r *Record) AsFile() (*FileRecord, bool) {
	f, ok := r.Payload.(*FileRecord)
	return f, ok
}

// AsMail returns the MailRecord payload if this is a MAIL record.
func (r *Record) AsMail() (*MailRecord, bool) {
	m, ok := r.Payload.(*MailRecord)
	return m, ok
}

// AsTicket returns the TicketRecord payload if this is a TICKET record.
func (r *Record) AsTicket() (*TicketRecord, bool) {
	t, ok := r.Payload.(*TicketRecord)
	return t, ok
}

// AsComment returns the CommentRecord payload if this is a COMMENT record.
func (r *Record) AsComment() (*CommentRecord, bool) {
	c, ok := r.Payload.(*CommentRecord)
	return c, ok
}

// AsLink returns the LinkRecord payload if this is a LINK record.
func (r *Record) AsLink() (*LinkRecord, bool) {
	l, ok := r.Payload.(*LinkRecord)
	return l, ok
}

// AsWebpage returns the WebpageRecord payload if this is a WEBPAGE record.
func (r *Record) AsWebpage() (*WebpageRecord, bool) {
	w, ok := r.Payload.(*WebpageRecord)
	return w, ok
}

// FileRecord is the payload for RecordTypeFile.
type FileRecord struct {
	SizeInBytes int64  `json:"size_in_bytes"`
	Extension   string `json:"extension"`
	IsFile      bool   `json:"is_file"`
	SHA256Hash  string `json:"sha256_hash,omitempty"`
	SignedURL   string `json:"signed_url,omitempty"`
	Path        string `json:"path,omitempty"`
	// SourceInternetMessageID carries the owning Gmail message's stable
	// Internet-Message-ID header for attachment records, so a later stream
	// request can re-resolve the message by sibling walk if its id 404s
	// (§4.4, §9). Empty for attachments of every other connector.
	SourceInternetMessageID string `json:"source_internet_message_id,omitempty"`
}

// MailRecord is the payload for RecordTypeMail.
type MailRecord struct {
	ThreadID         string   `json:"thread_id"`
	LabelIDs         []string `json:"label_ids"`
	Subject          string   `json:"subject"`
	FromEmail        string   `json:"from_email"`
	ToEmails         []string `json:"to_emails"`
	CcEmails         []string `json:"cc_emails"`
	BccEmails        []string `json:"bcc_emails"`
	InternetMessageID string  `json:"internet_message_id"`
}

// TicketRecord is the payload for RecordTypeTicket.
type TicketRecord struct {
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	Type          string `json:"type"`
	Assignee      string `json:"assignee,omitempty"`
	AssigneeEmail string `json:"assignee_email,omitempty"`
	CreatorEmail  string `json:"creator_email,omitempty"`
	CreatorName   string `json:"creator_name,omitempty"`
}

// CommentRecord is the payload for RecordTypeComment.
type CommentRecord struct {
	AuthorSourceID string `json:"author_source_id"`
}

// LinkVisibility is the visibility classification of a LinkRecord.
type LinkVisibility string

const (
	LinkPublic  LinkVisibility = "PUBLIC"
	LinkPrivate LinkVisibility = "PRIVATE"
	LinkUnknown LinkVisibility = "UNKNOWN"
)

// LinkRecord is the payload for RecordTypeLink.
type LinkRecord struct {
	URL             string         `json:"url"`
	Title           string         `json:"title,omitempty"`
	IsPublic        LinkVisibility `json:"is_public"`
	LinkedRecordID  string         `json:"linked_record_id,omitempty"`
}

// WebpageRecord is the payload for RecordTypeWebpage. Content is fetched lazily
// at stream time (§3); there is nothing to store beyond the Record header.
type WebpageRecord struct{}

// PermissionEntityType is who a Permission grants access to.
type PermissionEntityType string

const (
	PermissionEntityUser  PermissionEntityType = "USER"
	PermissionEntityGroup PermissionEntityType = "GROUP"
	PermissionEntityOrg   PermissionEntityType = "ORG"
)

// PermissionType is the access level a Permission grants.
type PermissionType string

const (
	PermissionOwner PermissionType = "OWNER"
	PermissionWrite PermissionType = "WRITE"
	PermissionRead  PermissionType = "READ"
)

// Permission is an edge from (USER|GROUP|ORG) to a Record or RecordGroup (§3).
// ExternalID is the source-provided identifier for the grantee when known;
// Email is used when the source addresses grantees by email instead (e.g. Drive
// sharing). At least one of ExternalID/Email must be set for USER/GROUP grants.
type Permission struct {
	EntityType PermissionEntityType `json:"entity_type"`
	ExternalID string               `json:"external_id,omitempty"`
	Email      string               `json:"email,omitempty"`
	Type       PermissionType       `json:"type"`
}

// permissionKey is the identity a permission set is compared over (§3 invariant
// 4): entity type + (external id OR email) + permission type. Order and
// insertion time are irrelevant.
type permissionKey struct {
	EntityType PermissionEntityType
	IDOrEmail  string
	Type       PermissionType
}

func keyOf(p Permission) permissionKey {
	idOrEmail := p.ExternalID
	if idOrEmail == "" {
		idOrEmail = p.Email
	}
	return permissionKey{EntityType: p.EntityType, IDOrEmail: idOrEmail, Type: p.Type}
}

// PermissionsEqual implements §3 invariant 4 and the "prefer the strict diff"
// decision of §9: two permission sets are equal iff their key sets are equal,
// regardless of slice order or how many times a duplicate appears.
func PermissionsEqual(a, b []Permission) bool {
	setA := make(map[permissionKey]struct{}, len(a))
	for _, p := range a {
		setA[keyOf(p)] = struct{}{}
	}
	setB := make(map[permissionKey]struct{}, len(b))
	for _, p := range b {
		setB[keyOf(p)] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if _, ok := setB[k]; !ok {
			return false
		}
	}
	return true
}

// RecordRelationType enumerates the parent/child and ordering edges in
// record_relations (§6 persisted-state layout).
type RecordRelationType string

const (
	RelationParent     RecordRelationType = "PARENT"
	RelationSibling    RecordRelationType = "SIBLING"
	RelationAttachment RecordRelationType = "ATTACHMENT"
)
