package conflict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

func note(t *testing.T, p models.NotePayload) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestDefaultIsClientWins(t *testing.T) {
	c := models.Conflict{RecordID: "r1", ServerData: []byte(`{}`), ClientData: []byte(`{}`)}

	res, err := Default().Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, models.Resolution{RecordID: "r1", Table: "notes", Resolution: models.ClientWins}, res)
}

func TestServerWins(t *testing.T) {
	res, err := ServerWins().Resolve(models.Conflict{RecordID: "r1", Table: "notes"})
	require.NoError(t, err)
	assert.Equal(t, models.ServerWins, res.Resolution)
	assert.Nil(t, res.MergedData)
}

func TestByName(t *testing.T) {
	for name, want := range map[string]models.ResolutionKind{
		"":            models.ClientWins,
		"client_wins": models.ClientWins,
		"server_wins": models.ServerWins,
	} {
		r, err := ByName(name)
		require.NoError(t, err)
		res, err := r.Resolve(models.Conflict{RecordID: "x"})
		require.NoError(t, err)
		assert.Equal(t, want, res.Resolution, name)
	}

	_, err := ByName("coin_flip")
	assert.Error(t, err)
}

func TestMerge_FieldLevel(t *testing.T) {
	client := note(t, models.NotePayload{
		Title:     "client title",
		Content:   "",
		Tags:      []string{"work", "go"},
		IsDeleted: true,
		CreatedAt: 100,
		UpdatedAt: 300,
	})
	server := note(t, models.NotePayload{
		Title:      "server title",
		Content:    "server body",
		Tags:       []string{"Work", "sync"},
		SourceURL:  "https://example.com",
		IsArchived: true,
		CreatedAt:  90,
		UpdatedAt:  200,
	})

	res, err := Merge().Resolve(models.Conflict{RecordID: "r1", ClientData: client, ServerData: server})
	require.NoError(t, err)
	assert.Equal(t, models.Merge, res.Resolution)

	var got models.NotePayload
	require.NoError(t, json.Unmarshal(res.MergedData, &got))
	assert.Equal(t, models.NotePayload{
		Title:      "client title",
		Content:    "server body",
		Tags:       []string{"go", "sync", "work"},
		SourceURL:  "https://example.com",
		IsArchived: false,
		IsDeleted:  false,
		CreatedAt:  90,
		UpdatedAt:  300,
	}, got)
}

func TestMerge_OneSideMissing(t *testing.T) {
	client := note(t, models.NotePayload{Title: "c", UpdatedAt: 1})

	res, err := Merge().Resolve(models.Conflict{RecordID: "r1", ClientData: client})
	require.NoError(t, err)
	assert.JSONEq(t, string(client), string(res.MergedData))
}

func TestMerge_UnknownTableFallsBack(t *testing.T) {
	res, err := Merge().Resolve(models.Conflict{RecordID: "r1", Table: "folders", ClientData: []byte(`1`), ServerData: []byte(`2`)})
	require.NoError(t, err)
	assert.Equal(t, models.ClientWins, res.Resolution)
	assert.Equal(t, "folders", res.Table)
}

func TestMerge_MalformedData(t *testing.T) {
	_, err := Merge().Resolve(models.Conflict{RecordID: "r1", ClientData: []byte(`{`), ServerData: []byte(`{}`)})
	assert.Error(t, err)
}

func TestResolveAll(t *testing.T) {
	res, err := ResolveAll(Default(), []models.Conflict{{RecordID: "a"}, {RecordID: "b"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "b", res[1].RecordID)
}
