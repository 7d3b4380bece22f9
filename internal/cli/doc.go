// Package cli builds the featflow command tree, validates user input and
// maps failures to exit codes. It translates flags into app.Config.
package cli
