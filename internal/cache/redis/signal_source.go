package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ayush101098/nexxore/internal/domain"
)

// signalStream is the Redis stream external ingestors append context
// signals to (exploit disclosures, governance alerts, market stress).
const signalStream = "context_signals"

// streamMaxLen bounds the signal stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalSource implements domain.SignalSource over a Redis stream. The
// stream ID doubles as the read cursor, so restarts resume where the
// previous reader stopped.
type SignalSource struct {
	rdb *redis.Client
}

// NewSignalSource creates a SignalSource backed by the given Client.
func NewSignalSource(c *Client) *SignalSource {
	return &SignalSource{rdb: c.Underlying()}
}

// AppendSignal adds a signal to the stream. Exposed for ingestors and tests.
func (ss *SignalSource) AppendSignal(ctx context.Context, sig domain.ContextSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: signalStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := ss.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: append signal: %w", err)
	}
	return nil
}

// ReadSignals returns up to limit signals newer than cursor, together with
// the new cursor. Use "0" to read from the beginning. Malformed entries are
// skipped but still advance the cursor.
func (ss *SignalSource) ReadSignals(ctx context.Context, cursor string, limit int) ([]domain.ContextSignal, string, error) {
	if cursor == "" {
		cursor = "0"
	}

	results, err := ss.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{signalStream, cursor},
		Count:   int64(limit),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cursor, nil
	}
	if err != nil {
		return nil, cursor, fmt.Errorf("redis: read signals: %w", err)
	}

	var signals []domain.ContextSignal
	newCursor := cursor
	for _, stream := range results {
		for _, msg := range stream.Messages {
			newCursor = msg.ID

			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			var sig domain.ContextSignal
			if err := json.Unmarshal(data, &sig); err != nil {
				continue
			}
			signals = append(signals, sig)
		}
	}

	return signals, newCursor, nil
}

// Compile-time interface check.
var _ domain.SignalSource = (*SignalSource)(nil)
