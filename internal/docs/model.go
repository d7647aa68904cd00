package docs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DocumentStatus is the lifecycle state of a Document.
// Values written by other clients are preserved as-is.
type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "Draft"
	StatusInProgress DocumentStatus = "InProgress"
	StatusCompleted  DocumentStatus = "Completed"
	StatusCancelled  DocumentStatus = "Cancelled"
)

// KnownStatuses lists the statuses this client creates.
var KnownStatuses = []DocumentStatus{StatusDraft, StatusInProgress, StatusCompleted, StatusCancelled}

// ParseDocumentStatus matches s case-insensitively against KnownStatuses.
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	for _, st := range KnownStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown document status: %q", s)
}

// Database is the single JSON document holding every customer record.
// It lives at a fixed path in the remote store.
type Database struct {
	Customers   []*Customer `json:"customers" yaml:"customers"`
	LastUpdated time.Time   `json:"lastUpdated" yaml:"lastUpdated"`
}

// Customer owns its documents and attachment metadata.
type Customer struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Contact   string        `json:"contact" yaml:"contact"`
	Documents []*Document   `json:"documents" yaml:"documents"`
	Files     []*Attachment `json:"files" yaml:"files"`
	CreatedAt time.Time     `json:"createdAt" yaml:"createdAt"`
}

// Document is a tracked paper or record belonging to one customer.
type Document struct {
	ID     string         `json:"id" yaml:"id"`
	Title  string         `json:"title" yaml:"title"`
	Date   string         `json:"date" yaml:"date"`
	Status DocumentStatus `json:"status" yaml:"status"`
}

// Compression records how an attachment payload was transformed before upload.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionImage Compression = "image"
	CompressionZip   Compression = "zip"
)

// Attachment is the metadata for a binary file stored out-of-band under Path.
type Attachment struct {
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name" yaml:"name"`
	OriginalSize   int64       `json:"originalSize" yaml:"originalSize"`
	CompressedSize int64       `json:"compressedSize" yaml:"compressedSize"`
	Path           string      `json:"path" yaml:"path"`
	UploadDate     time.Time   `json:"uploadDate" yaml:"uploadDate"`
	Type           string      `json:"type" yaml:"type"`
	Compression    Compression `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encrypted      bool        `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{Customers: []*Customer{}}
}

// NewCustomer creates a customer with no documents or files.
// Name and contact are NFC-normalized so visually equal names compare equal.
func NewCustomer(id, name, contact string, createdAt time.Time) *Customer {
	return &Customer{
		ID:        id,
		Name:      normalizeText(name),
		Contact:   normalizeText(contact),
		Documents: []*Document{},
		Files:     []*Attachment{},
		CreatedAt: createdAt,
	}
}

// NewDocument creates a document dated on the given day.
func NewDocument(id, title string, status DocumentStatus, day time.Time) *Document {
	return &Document{
		ID:     id,
		Title:  normalizeText(title),
		Date:   day.Format("2006-01-02"),
		Status: status,
	}
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Encode serializes the database as pretty-printed UTF-8 JSON.
func Encode(db *Database) ([]byte, error) {
	c := db.Clone()
	c.normalize()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding database: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a database previously written by Encode (or by any other
// client of the same format). Parse failures are reported as ErrCorruptData.
func Decode(data []byte) (*Database, error) {
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	db.normalize()
	return &db, nil
}

// normalize replaces nil slices with empty ones so the file always carries
// arrays, and drops null customer entries.
func (db *Database) normalize() {
	customers := make([]*Customer, 0, len(db.Customers))
	for _, c := range db.Customers {
		if c == nil {
			continue
		}
		if c.Documents == nil {
			c.Documents = []*Document{}
		}
		if c.Files == nil {
			c.Files = []*Attachment{}
		}
		customers = append(customers, c)
	}
	db.Customers = customers
}

// Clone returns a deep copy of the database.
func (db *Database) Clone() *Database {
	if db == nil {
		return nil
	}
	out := &Database{
		LastUpdated: db.LastUpdated,
		Customers:   make([]*Customer, 0, len(db.Customers)),
	}
	for _, c := range db.Customers {
		if c == nil {
			continue
		}
		out.Customers = append(out.Customers, c.clone())
	}
	return out
}

func (c *Customer) clone() *Customer {
	cc := *c
	cc.Documents = make([]*Document, len(c.Documents))
	for i, d := range c.Documents {
		dd := *d
		cc.Documents[i] = &dd
	}
	cc.Files = make([]*Attachment, len(c.Files))
	for i, a := range c.Files {
		aa := *a
		cc.Files[i] = &aa
	}
	return &cc
}

// FindCustomer returns the customer with the given ID, or nil.
func (db *Database) FindCustomer(id string) *Customer {
	for _, c := range db.Customers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// PrependCustomer inserts c at the top of the list.
func (db *Database) PrependCustomer(c *Customer) {
	db.Customers = append([]*Customer{c}, db.Customers...)
}

// RemoveCustomer deletes the customer and, with it, all of its documents and
// attachment metadata. The removed customer is returned so the caller can
// clean up its remote blobs.
func (db *Database) RemoveCustomer(id string) (*Customer, bool) {
	for i, c := range db.Customers {
		if c.ID == id {
			db.Customers = append(db.Customers[:i:i], db.Customers[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

// Search returns customers whose name or contact contains query,
// case-insensitively. An empty query matches everything.
func (db *Database) Search(query string) []*Customer {
	q := strings.ToLower(normalizeText(query))
	if q == "" {
		return db.Customers
	}
	var out []*Customer
	for _, c := range db.Customers {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Contact), q) {
			out = append(out, c)
		}
	}
	return out
}

// AddDocument appends d; documents keep insertion order.
func (c *Customer) AddDocument(d *Document) {
	c.Documents = append(c.Documents, d)
}

// FindDocument returns the document with the given ID, or nil.
func (c *Customer) FindDocument(id string) *Document {
	for _, d := range c.Documents {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// RemoveDocument deletes the document with the given ID.
func (c *Customer) RemoveDocument(id string) bool {
	for i, d := range c.Documents {
		if d.ID == id {
			c.Documents = append(c.Documents[:i:i], c.Documents[i+1:]...)
			return true
		}
	}
	return false
}

// PutAttachment appends a, replacing any existing entry with the same path
// so that no two attachments of one customer share a path.
func (c *Customer) PutAttachment(a *Attachment) {
	for i, existing := range c.Files {
		if existing.Path == a.Path {
			c.Files[i] = a
			return
		}
	}
	c.Files = append(c.Files, a)
}

// FindAttachment returns the attachment with the given ID, or nil.
func (c *Customer) FindAttachment(id string) *Attachment {
	for _, a := range c.Files {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// RemoveAttachment deletes the attachment metadata with the given ID.
func (c *Customer) RemoveAttachment(id string) (*Attachment, bool) {
	for i, a := range c.Files {
		if a.ID == id {
			c.Files = append(c.Files[:i:i], c.Files[i+1:]...)
			return a, true
		}
	}
	return nil, false
}
