package model

// Origin records how a composition space came into existence.
type Origin string

const (
	OriginNew     Origin = "new"
	OriginReply   Origin = "reply"
	OriginForward Origin = "forward"
	OriginEdit    Origin = "edit"
	OriginCopy    Origin = "copy"
)

// Normalized draft priority constants.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Content type constants for the draft body.
const (
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html"
)

// Owner identifies the (tenant, user) pair a composition space belongs to.
type Owner struct {
	// AccountID is the tenant the owning user belongs to.
	AccountID string `json:"account_id"`

	// UserID is the owning user within the tenant.
	UserID string `json:"user_id"`
}

// Security holds the security settings requested for a draft.
type Security struct {
	Encrypt   bool `json:"encrypt"`
	Sign      bool `json:"sign"`
	PGPInline bool `json:"pgp_inline"`
}

// SharedAttachments holds the shared-attachment (drive link) settings
// for a draft.
type SharedAttachments struct {
	Enabled  bool   `json:"enabled"`
	Expiry   int64  `json:"expiry,omitempty"` // unix millis, 0 = no expiry
	Password string `json:"password,omitempty"`
}

// Attachment is a single attachment reference held by a draft. The
// attachment payload itself lives in the persistent store; the draft
// only tracks metadata.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// DraftMessage is the full field set of one draft being edited.
type DraftMessage struct {
	// From is the sender address.
	From string `json:"from"`

	// ReplySender is the address replies should be directed to, if it
	// differs from From.
	ReplySender string `json:"reply_sender,omitempty"`

	// To, Cc, and Bcc are the recipient address lists.
	To  []string `json:"to,omitempty"`
	Cc  []string `json:"cc,omitempty"`
	Bcc []string `json:"bcc,omitempty"`

	// Subject is the draft subject line.
	Subject string `json:"subject"`

	// Content is the draft body.
	Content string `json:"content"`

	// ContentType describes the body encoding (use ContentType* constants).
	ContentType string `json:"content_type"`

	// RequestReadReceipt asks the recipient's client for a read receipt.
	RequestReadReceipt bool `json:"request_read_receipt"`

	// Priority is the normalized priority (use Priority* constants).
	Priority string `json:"priority"`

	// Security holds encryption/signing settings.
	Security Security `json:"security"`

	// SharedAttachments holds drive-link attachment settings.
	SharedAttachments SharedAttachments `json:"shared_attachments"`

	// Attachments lists the attachment references of the draft.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Origin records how the space was opened (use Origin* constants).
	Origin Origin `json:"origin"`
}

// NewDraftMessage returns a draft with empty fields and sensible defaults.
func NewDraftMessage() *DraftMessage {
	return &DraftMessage{
		ContentType: ContentTypePlain,
		Priority:    PriorityNormal,
		Origin:      OriginNew,
	}
}

// Clone returns a deep copy of the draft. Recipient and attachment slices
// are copied so the clone can be handed out without exposing internal
// state to mutation.
func (m *DraftMessage) Clone() *DraftMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.To = CopyStrings(m.To)
	out.Cc = CopyStrings(m.Cc)
	out.Bcc = CopyStrings(m.Bcc)
	out.Attachments = CopyAttachments(m.Attachments)
	return &out
}

// DraftDelta is a sparse overlay over DraftMessage: a nil field means
// "unchanged since the last flush". At most one delta exists per draft
// state at any time.
type DraftDelta struct {
	From               *string            `json:"from,omitempty"`
	ReplySender        *string            `json:"reply_sender,omitempty"`
	To                 *[]string          `json:"to,omitempty"`
	Cc                 *[]string          `json:"cc,omitempty"`
	Bcc                *[]string          `json:"bcc,omitempty"`
	Subject            *string            `json:"subject,omitempty"`
	Content            *string            `json:"content,omitempty"`
	ContentType        *string            `json:"content_type,omitempty"`
	RequestReadReceipt *bool              `json:"request_read_receipt,omitempty"`
	Priority           *string            `json:"priority,omitempty"`
	Security           *Security          `json:"security,omitempty"`
	SharedAttachments  *SharedAttachments `json:"shared_attachments,omitempty"`
	Attachments        *[]Attachment      `json:"attachments,omitempty"`
	Origin             *Origin            `json:"origin,omitempty"`
}

// IsEmpty reports whether the delta carries no field at all.
func (d *DraftDelta) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.From == nil && d.ReplySender == nil &&
		d.To == nil && d.Cc == nil && d.Bcc == nil &&
		d.Subject == nil && d.Content == nil && d.ContentType == nil &&
		d.RequestReadReceipt == nil && d.Priority == nil &&
		d.Security == nil && d.SharedAttachments == nil &&
		d.Attachments == nil && d.Origin == nil
}

// CopyStrings returns an independent copy of a string slice, preserving
// nil-ness.
func CopyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// CopyAttachments returns an independent copy of an attachment slice,
// preserving nil-ness.
func CopyAttachments(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
