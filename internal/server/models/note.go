// Package models defines the server-side note and device session types.
package models

import "time"

// Note is the authoritative copy of a user's note.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Version   int64
	UpdatedAt time.Time
	DeletedAt *time.Time
	// LastOpID is the client operation that produced this version; a replay
	// of the same operation is acknowledged without a second bump.
	LastOpID string
}

// Deleted reports whether the note carries the soft-delete marker.
func (n *Note) Deleted() bool {
	return n.DeletedAt != nil
}

// Clone returns a deep copy.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// Mutation is a client change submitted to the arbiter.
type Mutation struct {
	OpID  string
	Kind  MutationKind
	Title string
	Body  string
}
