// Package cli provides the interactive notesync command-line client.
//
// It wires configuration, the sync engine and an interactive REPL. Notes
// can be edited at any time; the engine syncs them in the background and
// sync events are printed as they arrive.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
