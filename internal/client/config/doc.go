// Package config loads runtime configuration for the notesync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   host:port of the gRPC endpoint
//	-w string   base URL of the REST endpoint
//	-p string   transport: grpc or http
//	-d string   data directory
//	-u string   user id
//	-v string   device id
//	-k string   access token
//	-i int      periodic sync interval (seconds)
//	-r int      reconnect attempts
//	-b string   reconnect backoff: fixed or exponential
//	-l string   log level
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "transport": "grpc",
//	  "data_dir": "/var/lib/notesync",
//	  "user_id": "alice",
//	  "device_id": "laptop",
//	  "sync_interval": "30s",
//	  "reconnect_delay": "2s",
//	  "reconnect_attempts": 5,
//	  "backoff": "exponential"
//	}
package config
