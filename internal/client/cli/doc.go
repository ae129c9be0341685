// Package cli provides the notesync command-line client.
//
// Commands are built with cobra. Configuration is resolved once per
// invocation (defaults, config file, NOTESYNC_* environment, flags) and a
// session over the local store is opened lazily by the commands that need
// it.
//
//	notesync login
//	notesync note add --title "Groceries" --tag home
//	notesync sync now
//	notesync sync watch
package cli
