package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	HTTPEndpointAddr   string         `json:"http_endpoint_addr"`
	Transport          string         `json:"transport"`
	DataDir            string         `json:"data_dir"`
	UserID             string         `json:"user_id"`
	DeviceID           string         `json:"device_id"`
	Token              string         `json:"token"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	ConnectTimeout     timex.Duration `json:"connect_timeout"`
	CallTimeout        timex.Duration `json:"call_timeout"`
	HeartbeatInterval  timex.Duration `json:"heartbeat_interval"`
	ReconnectDelay     timex.Duration `json:"reconnect_delay"`
	ReconnectAttempts  int            `json:"reconnect_attempts"`
	Backoff            string         `json:"backoff"`
	MaxParallel        int            `json:"max_parallel"`
	LogLevel           string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from the file named by
// -c/-config. Keys absent from the file keep their current values. Read or
// unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.HTTPEndpointAddr, jc.HTTPEndpointAddr)
	setString(&cfg.Transport, jc.Transport)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.UserID, jc.UserID)
	setString(&cfg.DeviceID, jc.DeviceID)
	setString(&cfg.Token, jc.Token)
	setString(&cfg.Backoff, jc.Backoff)
	setString(&cfg.LogLevel, jc.LogLevel)

	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.ConnectTimeout, jc.ConnectTimeout)
	setDuration(&cfg.CallTimeout, jc.CallTimeout)
	setDuration(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDuration(&cfg.ReconnectDelay, jc.ReconnectDelay)

	if jc.ReconnectAttempts > 0 {
		cfg.ReconnectAttempts = jc.ReconnectAttempts
	}
	if jc.MaxParallel > 0 {
		cfg.MaxParallel = jc.MaxParallel
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
