package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/common"
)

func TestValidate_Note(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid",
			raw:  `{"title":"t","content":"c","tags":["a"],"isArchived":false,"isDeleted":false,"createdAt":1,"updatedAt":2}`,
		},
		{
			name: "valid with provenance",
			raw:  `{"title":"t","content":"","tags":[],"sourceUrl":"https://x","isArchived":true,"isDeleted":false,"updatedAt":2}`,
		},
		{
			name:    "missing title",
			raw:     `{"content":"c","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":2}`,
			wantErr: true,
		},
		{
			name:    "tags not array",
			raw:     `{"title":"t","content":"c","tags":"a","isArchived":false,"isDeleted":false,"updatedAt":2}`,
			wantErr: true,
		},
		{
			name:    "negative timestamp",
			raw:     `{"title":"t","content":"c","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":-5}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `{"title":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(common.TableNotes, json.RawMessage(tt.raw))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, common.KindValidation, common.KindOf(err))
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestValidate_UnknownTableAndEmpty(t *testing.T) {
	err := Validate("tags", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	err = Validate(common.TableNotes, nil)
	require.Error(t, err)
}
