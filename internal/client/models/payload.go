package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
)

// Payload is the tagged variant carried in Change.Data. Each entity kind
// has its own concrete type; Table names the tag.
type Payload interface {
	Table() string
}

// NotePayload is the wire form of a Note. Timestamps are Unix milliseconds.
type NotePayload struct {
	Title                string   `json:"title"`
	Content              string   `json:"content"`
	Tags                 []string `json:"tags"`
	SourceURL            string   `json:"sourceUrl,omitempty"`
	SourceScreenshotPath string   `json:"sourceScreenshotPath,omitempty"`
	IsArchived           bool     `json:"isArchived"`
	IsDeleted            bool     `json:"isDeleted"`
	CreatedAt            int64    `json:"createdAt"`
	UpdatedAt            int64    `json:"updatedAt"`
}

func (NotePayload) Table() string { return common.TableNotes }

// DecodePayload decodes raw according to table. Unknown tables fail.
func DecodePayload(table string, raw json.RawMessage) (Payload, error) {
	switch table {
	case common.TableNotes:
		var p NotePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", table, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

// NoteToPayload maps a local note to its wire payload.
func NoteToPayload(n *Note) NotePayload {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return NotePayload{
		Title:                n.Title,
		Content:              n.Content,
		Tags:                 tags,
		SourceURL:            n.SourceURL,
		SourceScreenshotPath: n.SourceScreenshotPath,
		IsArchived:           n.IsArchived,
		IsDeleted:            n.IsDeleted,
		CreatedAt:            n.CreatedAt.UnixMilli(),
		UpdatedAt:            n.UpdatedAt.UnixMilli(),
	}
}

// ApplyPayload copies wire fields onto n. Identity, owner and sync
// bookkeeping are left to the caller.
func ApplyPayload(n *Note, p NotePayload) {
	n.Title = p.Title
	n.Content = p.Content
	n.Tags = NormalizeTags(p.Tags)
	n.SourceURL = p.SourceURL
	n.SourceScreenshotPath = p.SourceScreenshotPath
	n.IsArchived = p.IsArchived
	n.IsDeleted = p.IsDeleted
	if p.CreatedAt != 0 {
		n.CreatedAt = time.UnixMilli(p.CreatedAt)
	}
	if p.UpdatedAt != 0 {
		n.UpdatedAt = time.UnixMilli(p.UpdatedAt)
	}
}
