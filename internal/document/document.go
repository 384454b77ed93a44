// Package document defines the Document entity and its processing lifecycle.
// A Document represents one uploaded file (contract, purchase order, invoice,
// sales record) moving through PENDING → PROCESSING → COMPLETED/FAILED as the
// indexing pipeline works on it. The entity is pure data plus transition
// logic — persistence lives in the store package and indexing in indexer.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status is the processing lifecycle state of a Document.
type Status string

const (
	// StatusPending means the document was uploaded but indexing has not started.
	StatusPending Status = "PENDING"
	// StatusProcessing means the indexing pipeline is working on the document.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means text extraction and indexing finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means indexing failed; the document holds no extracted text.
	StatusFailed Status = "FAILED"
)

// Type classifies an ingested document into the closed set the assistant
// understands. The labels surface in retrieval source tags (see rag package).
type Type string

const (
	// TypeContract is a supplier or sales contract.
	TypeContract Type = "CONTRACT"
	// TypePurchaseOrder is a purchase order issued to a supplier.
	TypePurchaseOrder Type = "PURCHASE_ORDER"
	// TypeInvoice is an incoming or outgoing invoice.
	TypeInvoice Type = "INVOICE"
	// TypeSalesRecord is a record of completed sales.
	TypeSalesRecord Type = "SALES_RECORD"
	// TypeOther is any document outside the known categories.
	TypeOther Type = "OTHER"
)

// ValidType reports whether s names one of the known document types.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeContract, TypePurchaseOrder, TypeInvoice, TypeSalesRecord, TypeOther:
		return true
	}
	return false
}

// Document is one uploaded file and its processing state.
// Mutate the status only through the Mark* transition methods.
type Document struct {
	// ID is the unique document identifier (UUID), assigned at creation.
	ID string
	// Filename is the stored (disk) filename.
	Filename string
	// OriginalName is the filename as uploaded by the user.
	OriginalName string
	// Filepath is the absolute storage path of the uploaded file.
	Filepath string
	// MIMEType is the detected content type, used to resolve a parser.
	MIMEType string
	// Size is the file size in bytes.
	Size int64
	// Type is the document category.
	Type Type
	// Status is the current lifecycle state.
	Status Status
	// TextContent is the extracted text, set when processing completes.
	TextContent string
	// PageCount is the number of pages, when the parser reports one.
	PageCount int
	// Metadata holds free-form key/value pairs merged over the lifecycle.
	Metadata map[string]any
	// IsTemporary marks documents eligible for expiry-based cleanup.
	IsTemporary bool
	// ExpiresAt is the optional expiry instant for temporary documents.
	ExpiresAt time.Time
	// UserID is the optional owner identifier.
	UserID string
	// Version is incremented by the store on every persisted update.
	Version int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt time.Time
}

// Input holds the caller-supplied attributes for a new Document.
type Input struct {
	Filename     string
	OriginalName string
	Filepath     string
	MIMEType     string
	Size         int64
	Type         Type
	IsTemporary  bool
	ExpiresAt    time.Time
	UserID       string
	Metadata     map[string]any
}

// New creates a Document in StatusPending with a freshly generated ID.
func New(in Input) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:           uuid.NewString(),
		Filename:     in.Filename,
		OriginalName: in.OriginalName,
		Filepath:     in.Filepath,
		MIMEType:     in.MIMEType,
		Size:         in.Size,
		Type:         in.Type,
		Status:       StatusPending,
		Metadata:     in.Metadata,
		IsTemporary:  in.IsTemporary,
		ExpiresAt:    in.ExpiresAt,
		UserID:       in.UserID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkProcessing transitions the document to StatusProcessing.
func (d *Document) MarkProcessing() {
	d.Status = StatusProcessing
	d.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the document to StatusCompleted, recording the
// extracted text, the page count (0 when unknown), and the processing instant.
func (d *Document) MarkCompleted(textContent string, pageCount int) {
	now := time.Now().UTC()
	d.Status = StatusCompleted
	d.TextContent = textContent
	d.PageCount = pageCount
	d.ProcessedAt = now
	d.UpdatedAt = now
}

// MarkFailed transitions the document to StatusFailed.
func (d *Document) MarkFailed() {
	d.Status = StatusFailed
	d.UpdatedAt = time.Now().UTC()
}

// MergeMetadata merges the given key/value pairs into the document metadata,
// overwriting existing keys and keeping the rest. Legal in any status.
func (d *Document) MergeMetadata(meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		d.Metadata[k] = v
	}
	d.UpdatedAt = time.Now().UTC()
}

// Expired reports whether the document's expiry instant has passed at now.
// Documents without an expiry never expire. Pure predicate — cleanup of
// expired temporary documents is the cleanup command's job, not the entity's.
func (d *Document) Expired(now time.Time) bool {
	if d.ExpiresAt.IsZero() {
		return false
	}
	return now.After(d.ExpiresAt)
}
