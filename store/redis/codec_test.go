package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifton/pipelinekit/core/idempotency"
)

func TestRecordCodec_RoundTrip(t *testing.T) {
	c := recordCodec{}
	rec := idempotency.Record{
		Key:       "k",
		Status:    idempotency.Completed,
		Value:     map[string]any{"ok": true},
		CreatedAt: time.Now().Truncate(time.Second),
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
	}

	data, err := c.encode(rec)
	require.NoError(t, err)

	decoded, err := c.decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, decoded.Key)
	assert.Equal(t, rec.Status, decoded.Status)
	assert.True(t, rec.CreatedAt.Equal(decoded.CreatedAt))
}

func TestRecordCodec_NilValue(t *testing.T) {
	c := recordCodec{}
	rec := idempotency.Record{Key: "k", Status: idempotency.InProgress}
	data, err := c.encode(rec)
	require.NoError(t, err)
	decoded, err := c.decode(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Value)
}
