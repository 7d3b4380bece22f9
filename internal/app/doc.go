// Package app wires discovery, reduction, materialization and dispatch into
// the operations the command line exposes. It is decoupled from any specific
// entrypoint; the CLI only parses flags into a Config.
package app
