package config

import (
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/engine"
	"github.com/dmitrijs2005/notesync/internal/client/syncer"
)

// Config holds runtime settings for the notesync client.
//
// Fields:
//   - ServerEndpointAddr / HTTPEndpointAddr: gRPC target and REST base URL.
//   - Transport: "grpc" or "http".
//   - DataDir: where the per-user, per-device SQLite files live.
//   - UserID / DeviceID / Token: identity. An empty Token is prompted for.
//   - SyncInterval, ReconnectDelay, ReconnectAttempts, Backoff: scheduling
//     and reconnect policy of the sync coordinator.
type Config struct {
	ServerEndpointAddr string
	HTTPEndpointAddr   string
	Transport          string
	DataDir            string
	UserID             string
	DeviceID           string
	Token              string
	SyncInterval       time.Duration
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	HeartbeatInterval  time.Duration
	ReconnectDelay     time.Duration
	ReconnectAttempts  int
	Backoff            string
	MaxParallel        int
	LogLevel           string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.HTTPEndpointAddr = "http://127.0.0.1:8080"
	c.Transport = "grpc"
	c.DataDir = "."
	c.SyncInterval = 30 * time.Second
	c.ConnectTimeout = 10 * time.Second
	c.CallTimeout = 15 * time.Second
	c.HeartbeatInterval = 30 * time.Second
	c.ReconnectDelay = 2 * time.Second
	c.ReconnectAttempts = 5
	c.Backoff = string(syncer.BackoffFixed)
	c.MaxParallel = 4
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Engine converts c into the engine's settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		DataDir:           c.DataDir,
		Transport:         c.Transport,
		GRPCAddress:       c.ServerEndpointAddr,
		HTTPAddress:       c.HTTPEndpointAddr,
		HeartbeatInterval: c.HeartbeatInterval,
		Sync: syncer.Config{
			SyncInterval:      c.SyncInterval,
			ConnectTimeout:    c.ConnectTimeout,
			CallTimeout:       c.CallTimeout,
			ReconnectDelay:    c.ReconnectDelay,
			ReconnectAttempts: c.ReconnectAttempts,
			Backoff:           syncer.Backoff(c.Backoff),
			MaxParallel:       c.MaxParallel,
		},
	}
}
