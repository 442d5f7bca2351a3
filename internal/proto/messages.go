package proto

import "time"

// Channel message types.
const (
	TypeRegister    = "register"
	TypeHeartbeat   = "heartbeat"
	TypeSyncRequest = "sync-request"

	TypeRegistered   = "registered"
	TypeSyncResponse = "sync-response"
	TypeNoteCreated  = "note:created"
	TypeNoteUpdated  = "note:updated"
	TypeNoteDeleted  = "note:deleted"
	TypeError        = "error"
)

// Mutation kinds carried by ApplyRequest.Kind.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

type Note struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type ApplyRequest struct {
	OpID            string `json:"opId"`
	NoteID          string `json:"noteId"`
	Kind            string `json:"kind"`
	Title           string `json:"title,omitempty"`
	Body            string `json:"body,omitempty"`
	ExpectedVersion int64  `json:"expectedVersion"`
	// ChannelID is the sender's registered channel, if any; the broadcaster
	// skips it.
	ChannelID string `json:"channelId,omitempty"`
}

// ApplyResponse carries the stored note: the new version when applied, the
// unchanged authoritative copy when rejected.
type ApplyResponse struct {
	Applied bool  `json:"applied"`
	Note    *Note `json:"note"`
}

type SinceRequest struct {
	Since time.Time `json:"since"`
}

type SinceResponse struct {
	Notes    []*Note   `json:"notes"`
	SyncTime time.Time `json:"syncTime"`
}

type ClientMessage struct {
	Type        string        `json:"type"`
	Register    *Register     `json:"register,omitempty"`
	SyncRequest *SinceRequest `json:"syncRequest,omitempty"`
}

type Register struct {
	DeviceID   string            `json:"deviceId"`
	DeviceMeta map[string]string `json:"deviceMeta,omitempty"`
}

type ServerMessage struct {
	Type         string         `json:"type"`
	Registered   *Registered    `json:"registered,omitempty"`
	SyncResponse *SinceResponse `json:"syncResponse,omitempty"`
	Push         *Push          `json:"push,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type Registered struct {
	ChannelID string   `json:"channelId"`
	Devices   []Device `json:"devices"`
}

type Device struct {
	DeviceID  string            `json:"deviceId"`
	ChannelID string            `json:"channelId"`
	Meta      map[string]string `json:"meta,omitempty"`
	LastSeen  time.Time         `json:"lastSeen"`
}

type Push struct {
	Note      *Note     `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}
