package conflict

import (
	"encoding/json"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// mergeNote merges two note payloads. Scalar fields come from the side
// edited last, unless that side left them empty. Tags are the union.
// A tombstone only survives when both sides deleted.
func mergeNote(clientRaw, serverRaw json.RawMessage) (json.RawMessage, error) {
	var cl, sv models.NotePayload
	if len(serverRaw) == 0 {
		return clientRaw, nil
	}
	if len(clientRaw) == 0 {
		return serverRaw, nil
	}
	if err := json.Unmarshal(clientRaw, &cl); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(serverRaw, &sv); err != nil {
		return nil, err
	}

	newer, older := cl, sv
	if sv.UpdatedAt > cl.UpdatedAt {
		newer, older = sv, cl
	}

	m := models.NotePayload{
		Title:                pick(newer.Title, older.Title),
		Content:              pick(newer.Content, older.Content),
		Tags:                 models.NormalizeTags(append(append([]string{}, cl.Tags...), sv.Tags...)),
		SourceURL:            pick(newer.SourceURL, older.SourceURL),
		SourceScreenshotPath: pick(newer.SourceScreenshotPath, older.SourceScreenshotPath),
		IsArchived:           newer.IsArchived,
		IsDeleted:            cl.IsDeleted && sv.IsDeleted,
		CreatedAt:            minNonZero(cl.CreatedAt, sv.CreatedAt),
		UpdatedAt:            max(cl.UpdatedAt, sv.UpdatedAt),
	}
	return json.Marshal(m)
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}
