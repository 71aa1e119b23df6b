package redis

import (
	"encoding/json"
	"time"

	"github.com/gifton/pipelinekit/core/idempotency"
)

// wireRecord is the JSON-serializable projection of idempotency.Record;
// Value must itself be JSON-marshalable for a round trip through Redis to
// preserve it.
type wireRecord struct {
	Key       string          `json:"key"`
	Status    int             `json:"status"`
	Value     json.RawMessage `json:"value,omitempty"`
	ErrDesc   string          `json:"errDesc,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type recordCodec struct{}

func (recordCodec) encode(rec idempotency.Record) ([]byte, error) {
	var raw json.RawMessage
	if rec.Value != nil {
		v, err := json.Marshal(rec.Value)
		if err != nil {
			return nil, err
		}
		raw = v
	}
	return json.Marshal(wireRecord{
		Key:       rec.Key,
		Status:    int(rec.Status),
		Value:     raw,
		ErrDesc:   rec.ErrDesc,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	})
}

func (recordCodec) decode(data []byte) (idempotency.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return idempotency.Record{}, err
	}
	var value any
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &value); err != nil {
			return idempotency.Record{}, err
		}
	}
	return idempotency.Record{
		Key:       w.Key,
		Status:    idempotency.Status(w.Status),
		Value:     value,
		ErrDesc:   w.ErrDesc,
		CreatedAt: w.CreatedAt,
		ExpiresAt: w.ExpiresAt,
	}, nil
}
