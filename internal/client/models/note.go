// Package models defines the client-side note and queued operation types.
package models

import (
	"fmt"
	"time"
)

// SyncStatus is the local reconciliation state of a note.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// ParseSyncStatus rejects anything outside the closed set.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(s) {
	case StatusSynced, StatusPending, StatusConflict:
		return SyncStatus(s), nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// Note is the device's copy of a note.
type Note struct {
	ID    string
	Title string
	Body  string
	// Version is the last server-confirmed version; zero until the first ack.
	Version    int64
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	SyncStatus SyncStatus
	// ConflictRemote is the server copy that collided with local changes.
	// Set only while SyncStatus is StatusConflict.
	ConflictRemote *Note
}

func (n *Note) Deleted() bool {
	return n.DeletedAt != nil
}

func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		c.DeletedAt = &t
	}
	c.ConflictRemote = n.ConflictRemote.Clone()
	return &c
}

// NoteData is the user-editable content of a note.
type NoteData struct {
	Title string
	Body  string
}

func (n *Note) Data() NoteData {
	return NoteData{Title: n.Title, Body: n.Body}
}
