package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ayush101098/nexxore/internal/domain"
)

const (
	// riskUpdatesChannel is the Pub/Sub channel each cycle's analysis is
	// broadcast on.
	riskUpdatesChannel = "risk_updates"
	// latestAnalysisKey holds the most recent analysis for point reads.
	latestAnalysisKey = "latest_risk_analysis"
)

// RiskCache implements domain.RiskPublisher: every analysis is broadcast to
// subscribers and cached as the latest snapshot. The key carries no TTL; a
// stale analysis is still more useful to dashboards than none, and the
// timestamp lets consumers judge freshness.
type RiskCache struct {
	rdb *redis.Client
}

// NewRiskCache creates a RiskCache backed by the given Client.
func NewRiskCache(c *Client) *RiskCache {
	return &RiskCache{rdb: c.Underlying()}
}

// PublishAnalysis stores the analysis as the latest snapshot and broadcasts
// it on the risk updates channel.
func (rc *RiskCache) PublishAnalysis(ctx context.Context, a domain.RiskAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal analysis: %w", err)
	}

	if err := rc.rdb.Set(ctx, latestAnalysisKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis: set latest analysis: %w", err)
	}
	if err := rc.rdb.Publish(ctx, riskUpdatesChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish risk update: %w", err)
	}
	return nil
}

// LatestAnalysis returns the most recently published analysis, or
// domain.ErrNotFound when none has been published yet.
func (rc *RiskCache) LatestAnalysis(ctx context.Context) (domain.RiskAnalysis, error) {
	payload, err := rc.rdb.Get(ctx, latestAnalysisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RiskAnalysis{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("redis: get latest analysis: %w", err)
	}

	var a domain.RiskAnalysis
	if err := json.Unmarshal(payload, &a); err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("redis: decode latest analysis: %w", err)
	}
	return a, nil
}

// SubscribeUpdates subscribes to the risk updates channel and returns a
// channel of analyses. The subscription closes with the context.
func (rc *RiskCache) SubscribeUpdates(ctx context.Context) (<-chan domain.RiskAnalysis, error) {
	pubsub := rc.rdb.Subscribe(ctx, riskUpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", riskUpdatesChannel, err)
	}

	out := make(chan domain.RiskAnalysis, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var a domain.RiskAnalysis
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.RiskPublisher = (*RiskCache)(nil)
