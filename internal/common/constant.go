// Package common contains shared constants, sentinel errors and the
// structured error kind used across the notesync client and server.
package common

// AuthorizationHeader carries the bearer access token on outbound requests.
const AuthorizationHeader = "Authorization"

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "

// APIVersionPath is the versioned base path every endpoint lives under.
const APIVersionPath = "/api/v1"

// TableNotes is the only entity kind currently carried by sync changes.
const TableNotes = "notes"

// Metadata keys used by the client key/value store.
const (
	MetaAuthTokens  = "authTokens"
	MetaSyncConfig  = "syncConfig"
	MetaCurrentUser = "currentUser"
)

// QueueKey returns the metadata key holding the pending change queue of a user.
func QueueKey(userID string) string {
	return "syncQueue_" + userID
}

// CheckpointKey returns the metadata key holding the last pulled checkpoint of a user.
func CheckpointKey(userID string) string {
	return "syncCheckpoint_" + userID
}

// LastSyncKey returns the metadata key holding the last successful sync time of a user.
func LastSyncKey(userID string) string {
	return "lastSyncAt_" + userID
}

// LastErrorKey returns the metadata key holding the error of a user's last
// sync cycle. An empty value means the last cycle succeeded.
func LastErrorKey(userID string) string {
	return "lastSyncError_" + userID
}
