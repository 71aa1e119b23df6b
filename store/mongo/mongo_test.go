package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gifton/pipelinekit/store/mongo"
)

func TestConnect_FailsFastOnUnreachableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := mongo.Connect(ctx, mongo.Config{
		URL:            "mongodb://127.0.0.1:1/?connectTimeoutMS=100&serverSelectionTimeoutMS=100",
		ConnectTimeout: 200 * time.Millisecond,
		RetryAttempts:  1,
		RetryInterval:  10 * time.Millisecond,
	})
	assert.Error(t, err)
}
