package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gifton/pipelinekit/store/postgres"
)

func TestTxContext(t *testing.T) {
	t.Run("absent by default", func(t *testing.T) {
		_, ok := postgres.TxFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("nil tx leaves context unchanged", func(t *testing.T) {
		ctx := postgres.WithTx(context.Background(), nil)
		_, ok := postgres.TxFromContext(ctx)
		assert.False(t, ok)
	})
}

func TestConnect_RejectsEmptyConnectionString(t *testing.T) {
	_, err := postgres.Connect(context.Background(), postgres.Config{})
	assert.ErrorIs(t, err, postgres.ErrEmptyConnectionString)
}
