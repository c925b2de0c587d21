// Package id defines prefixed identity types for jobmanager entities.
//
// An ID is a lowercase prefix naming the entity type followed by a UUIDv7,
// e.g. "work_01927a3c-5f8e-7c1a-9b2d-3e4f5a6b7c8d". UUIDv7 values are
// time-ordered, so IDs sort roughly by creation time.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for all entity types.
const (
	PrefixWork   Prefix = "work"
	PrefixWorker Prefix = "wkr"
)

// ID is a prefix-qualified, globally unique, sortable identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	inner  uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix. It panics when the prefix
// is malformed or the random source fails; both are programming errors.
func New(prefix Prefix) ID {
	if err := validatePrefix(prefix); err != nil {
		panic(fmt.Sprintf("id: %v", err))
	}
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate uuid: %v", err))
	}
	return ID{prefix: prefix, inner: u, valid: true}
}

// Parse parses "prefix_uuid" into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	p, rest, ok := strings.Cut(s, "_")
	if !ok {
		return Nil, fmt.Errorf("id: parse %q: missing prefix separator", s)
	}
	if err := validatePrefix(Prefix(p)); err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(p), inner: u, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.prefix)
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func validatePrefix(p Prefix) error {
	if p == "" || len(p) > 63 {
		return fmt.Errorf("invalid prefix %q", p)
	}
	for _, r := range p {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("invalid prefix %q", p)
		}
	}
	return nil
}

// WorkID identifies a unit of work submitted to a task runner (prefix: "work").
type WorkID = ID

// WorkerID identifies a runner worker pool (prefix: "wkr").
type WorkerID = ID

// NewWorkID generates a new unique work ID.
func NewWorkID() ID { return New(PrefixWork) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// ParseWorkID parses a string and validates the "work" prefix.
func ParseWorkID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWork) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// String returns "prefix_uuid", or "" for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return string(i.prefix) + "_" + i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return i.prefix
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. The Nil ID is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
