package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m30s","b":2000000000}`), &v))
	assert.Equal(t, 90*time.Second, v.A.Duration)
	assert.Equal(t, 2*time.Second, v.B.Duration)

	var bad Duration
	require.Error(t, json.Unmarshal([]byte(`"soon"`), &bad))
	require.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	b, err := json.Marshal(Duration{Duration: 15 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, `"15m0s"`, string(b))
}

func TestMilli_ZeroValues(t *testing.T) {
	assert.True(t, UnixMilli(0).IsZero())
	assert.Equal(t, int64(0), Milli(time.Time{}))

	now := time.UnixMilli(1_700_000_000_123)
	assert.Equal(t, now, UnixMilli(Milli(now)))
}
