package models

import "encoding/json"

// RemoteChange is the wire form of a LoggedChange as seen by clients in
// pulls and on the change feed. ChangedAt is Unix milliseconds.
type RemoteChange struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    ChangeAction    `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	DeviceID  string          `json:"deviceId,omitempty"`
	ChangedAt int64           `json:"changedAt"`
}

func (c LoggedChange) Wire() RemoteChange {
	return RemoteChange{
		ID:        c.ChangeID,
		Table:     c.Table,
		RecordID:  c.RecordID,
		Action:    c.Action,
		Data:      c.Data,
		Version:   c.Version,
		DeviceID:  c.DeviceID,
		ChangedAt: c.ChangedAt.UnixMilli(),
	}
}

// WireChanges converts a slice, never returning nil.
func WireChanges(in []LoggedChange) []RemoteChange {
	out := make([]RemoteChange, 0, len(in))
	for _, c := range in {
		out = append(out, c.Wire())
	}
	return out
}

const FeedTypeChanges = "changes"

// FeedMessage is one websocket frame on the change feed.
type FeedMessage struct {
	Type    string         `json:"type"`
	Changes []RemoteChange `json:"changes,omitempty"`
}
