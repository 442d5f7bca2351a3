package models

import "time"

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

type OpStatus string

const (
	OpPending    OpStatus = "pending"
	OpProcessing OpStatus = "processing"
	OpCompleted  OpStatus = "completed"
	OpFailed     OpStatus = "failed"
)

// Operation is a queued local mutation awaiting server acknowledgement.
// ID doubles as the idempotency key sent to the server.
type Operation struct {
	ID         string
	Seq        int64
	Kind       OpKind
	NoteID     string
	Payload    NoteData
	EnqueuedAt time.Time
	RetryCount int
	Status     OpStatus
	LastError  string
}
