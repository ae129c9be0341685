package models

import (
	"encoding/json"
	"time"
)

// Record is the server copy of one synced entity. Version is the user's
// version counter at the time of its last write.
type Record struct {
	UserID    string
	Table     string
	RecordID  string
	Data      json.RawMessage
	IsDeleted bool
	Version   int64
	DeviceID  string
	UpdatedAt time.Time
}

// ChangeAction is how a logged change affected its record.
type ChangeAction string

const (
	ChangeCreated ChangeAction = "created"
	ChangeUpdated ChangeAction = "updated"
	ChangeRemoved ChangeAction = "removed"
)

// LoggedChange is one entry of the per-user change log. Version doubles as
// the pull cursor.
type LoggedChange struct {
	UserID    string
	Version   int64
	ChangeID  string
	Table     string
	RecordID  string
	Action    ChangeAction
	Data      json.RawMessage
	DeviceID  string
	ChangedAt time.Time
}

// Outcome is how a pushed change was settled.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// AppliedChange remembers the outcome of a change ID so a retried push gets
// the same answer.
type AppliedChange struct {
	UserID   string
	ChangeID string
	Outcome  Outcome
	Reason   string
}

// Conflict is a pushed change held back because the stored record moved on
// since the client's checkpoint.
type Conflict struct {
	ID         string
	UserID     string
	ChangeID   string
	Table      string
	RecordID   string
	DeviceID   string
	ClientData json.RawMessage
	ServerData json.RawMessage
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
