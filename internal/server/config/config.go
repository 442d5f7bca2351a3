// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the notesync server.
//
// Fields:
//   - EndpointAddrGRPC / EndpointAddrHTTP: bind addresses for the gRPC
//     service and the REST + WebSocket endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects in-memory storage.
//   - SecretKey: HMAC secret for verifying JWTs (HS256).
//   - NATSURL: broker for cross-node fan-out. Empty runs single-node.
//   - EchoSuppression: channel, device or none.
//   - SessionTTL: device sessions silent for longer are expired.
//   - DeltaOverlap: subtracted from syncTime returned by delta queries.
type Config struct {
	EndpointAddrGRPC string
	EndpointAddrHTTP string
	DatabaseDSN      string
	SecretKey        string
	NATSURL          string
	NodeID           string
	EchoSuppression  string
	SubscriberBuffer int
	SessionTTL       time.Duration
	ReaperInterval   time.Duration
	DeltaOverlap     time.Duration
	LogLevel         string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret key must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.NATSURL = ""
	c.NodeID = ""
	c.EchoSuppression = "channel"
	c.SubscriberBuffer = 64
	c.SessionTTL = 2 * time.Minute
	c.ReaperInterval = 30 * time.Second
	c.DeltaOverlap = 1 * time.Second
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
