package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-w", ":9091", "-d", "db", "-s", "secret",
				"-n", "nats://broker:4222", "-e", "device", "-t", "90", "-o", "500", "-l", "debug",
			},
			expected: &Config{
				EndpointAddrGRPC: "127.0.0.1:9090",
				EndpointAddrHTTP: ":9091",
				DatabaseDSN:      "db",
				SecretKey:        "secret",
				NATSURL:          "nats://broker:4222",
				EchoSuppression:  "device",
				SessionTTL:       90 * time.Second,
				DeltaOverlap:     500 * time.Millisecond,
				LogLevel:         "debug",
			},
		},
		{
			name:     "unknown flags are ignored",
			args:     []string{"cmd", "-config", "x.json", "-z", "1"},
			expected: &Config{},
		},
		{
			name:        "bad integer",
			args:        []string{"cmd", "-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
