package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   HTTP/WebSocket bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN, empty for in-memory storage
//	-s string   JWT HMAC secret key
//	-n string   NATS URL for the cross-node relay
//	-e string   echo suppression mode: channel, device, none
//	-t int      device session TTL, seconds
//	-o int      delta overlap, milliseconds
//	-l string   log level
//
// Unknown flags are filtered out first so the JSON -c/-config flag can
// share os.Args.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-d", "-s", "-n", "-e", "-t", "-o", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP/WebSocket address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.NATSURL, "n", config.NATSURL, "NATS URL")
	fs.StringVar(&config.EchoSuppression, "e", config.EchoSuppression, "echo suppression (channel|device|none)")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Seconds()), "device session ttl (in seconds)")
	deltaOverlap := fs.Int("o", int(config.DeltaOverlap.Milliseconds()), "delta overlap (in milliseconds)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Second
	config.DeltaOverlap = time.Duration(*deltaOverlap) * time.Millisecond
}
