package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration. Durations
// use timex.Duration so both "1s" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	DatabaseDSN      string         `json:"database_dsn"`
	SecretKey        string         `json:"secret_key"`
	NATSURL          string         `json:"nats_url"`
	NodeID           string         `json:"node_id"`
	EchoSuppression  string         `json:"echo_suppression"`
	SubscriberBuffer int            `json:"subscriber_buffer"`
	SessionTTL       timex.Duration `json:"session_ttl"`
	ReaperInterval   timex.Duration `json:"reaper_interval"`
	DeltaOverlap     timex.Duration `json:"delta_overlap"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config. Keys absent
// from the file keep their current values. An unreadable or invalid file
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.NATSURL, c.NATSURL)
	setString(&config.NodeID, c.NodeID)
	setString(&config.EchoSuppression, c.EchoSuppression)
	setString(&config.LogLevel, c.LogLevel)

	if c.SubscriberBuffer > 0 {
		config.SubscriberBuffer = c.SubscriberBuffer
	}
	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.ReaperInterval.Duration > 0 {
		config.ReaperInterval = c.ReaperInterval.Duration
	}
	if c.DeltaOverlap.Duration > 0 {
		config.DeltaOverlap = c.DeltaOverlap.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
