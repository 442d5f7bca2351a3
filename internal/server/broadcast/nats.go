package broadcast

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "notesync.events"

// natsConn is the part of *nats.Conn the relay uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// natsConnect is a seam for tests.
var natsConnect = nats.Connect

// ConnectNATS dials the broker with unlimited reconnects.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return natsConnect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NATSRelay mirrors hub events across server nodes over NATS core pub/sub.
// Like local fan-out it is fire-and-forget.
type NATSRelay struct {
	conn   natsConn
	hub    *Hub
	nodeID string
	sub    *nats.Subscription
	logger logging.Logger
}

type relayEnvelope struct {
	Node      string    `json:"node"`
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId,omitempty"`
	ChannelID string    `json:"channelId,omitempty"`
	Kind      EventKind `json:"kind"`
	Note      relayNote `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

type relayNote struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func NewNATSRelay(conn natsConn, hub *Hub, nodeID string, logger logging.Logger) *NATSRelay {
	return &NATSRelay{conn: conn, hub: hub, nodeID: nodeID, logger: logger.With("module", "nats_relay")}
}

// subject keeps arbitrary user ids inside a single NATS token.
func subject(userID string) string {
	return subjectPrefix + "." + base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// Start subscribes to every user's events and attaches itself to the hub.
func (r *NATSRelay) Start() error {
	sub, err := r.conn.Subscribe(subjectPrefix+".>", r.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	r.sub = sub
	r.hub.SetRelay(r)
	return nil
}

func (r *NATSRelay) Forward(ctx context.Context, origin Origin, ev Event) error {
	env := relayEnvelope{
		Node:      r.nodeID,
		UserID:    origin.UserID,
		DeviceID:  origin.DeviceID,
		ChannelID: origin.ChannelID,
		Kind:      ev.Kind,
		Note: relayNote{
			ID:        ev.Note.ID,
			Title:     ev.Note.Title,
			Body:      ev.Note.Body,
			Version:   ev.Note.Version,
			UpdatedAt: ev.Note.UpdatedAt,
			DeletedAt: ev.Note.DeletedAt,
		},
		Timestamp: ev.Timestamp,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.conn.Publish(subject(origin.UserID), data)
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	ctx := context.Background()

	var env relayEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn(ctx, "bad relay message", "subject", msg.Subject, "error", err)
		return
	}
	if env.Node == r.nodeID {
		return
	}

	origin := Origin{UserID: env.UserID, DeviceID: env.DeviceID, ChannelID: env.ChannelID}
	r.hub.DeliverLocal(ctx, origin, Event{
		Kind: env.Kind,
		Note: &models.Note{
			ID:        env.Note.ID,
			UserID:    env.UserID,
			Title:     env.Note.Title,
			Body:      env.Note.Body,
			Version:   env.Note.Version,
			UpdatedAt: env.Note.UpdatedAt,
			DeletedAt: env.Note.DeletedAt,
		},
		Timestamp: env.Timestamp,
	})
}

func (r *NATSRelay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
