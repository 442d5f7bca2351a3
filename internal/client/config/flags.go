package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Unknown flags are filtered out first (see flagx.FilterArgs).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-p", "-d", "-u", "-v", "-k", "-i", "-r", "-b", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.HTTPEndpointAddr, "w", cfg.HTTPEndpointAddr, "base URL of the REST endpoint")
	fs.StringVar(&cfg.Transport, "p", cfg.Transport, "transport (grpc|http)")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&cfg.DeviceID, "v", cfg.DeviceID, "device id")
	fs.StringVar(&cfg.Token, "k", cfg.Token, "access token")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.IntVar(&cfg.ReconnectAttempts, "r", cfg.ReconnectAttempts, "reconnect attempts")
	fs.StringVar(&cfg.Backoff, "b", cfg.Backoff, "reconnect backoff (fixed|exponential)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
