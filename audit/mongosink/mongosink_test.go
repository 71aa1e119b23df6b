package mongosink_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gifton/pipelinekit/core/audit"
	"github.com/gifton/pipelinekit/audit/mongosink"
)

type fakeInserter struct {
	lastDoc any
	err     error
}

func (f *fakeInserter) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastDoc = document
	return &mongo.InsertOneResult{}, nil
}

func TestSink_LogInsertsDocument(t *testing.T) {
	fake := &fakeInserter{}
	sink := mongosink.New(fake)

	evt := audit.Event{
		EventType: "command.executed",
		Timestamp: time.Now(),
		TraceID:   "trace-1",
		Metadata:  map[string]any{"foo": "bar"},
	}

	err := sink.Log(context.Background(), evt)
	require.NoError(t, err)
	assert.NotNil(t, fake.lastDoc)
}

func TestSink_LogPropagatesInsertError(t *testing.T) {
	fake := &fakeInserter{err: assert.AnError}
	sink := mongosink.New(fake)

	err := sink.Log(context.Background(), audit.Event{EventType: "x"})
	assert.Error(t, err)
}
