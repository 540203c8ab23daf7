package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fpmath "OptionPool/internal/math"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PriceSink receives observations read from the feed. In the daemon it
// enqueues a price command for the engine.
type PriceSink func(ctx context.Context, p PricePoint) error

// RedisFeed polls a spot price that an upstream market-data process writes
// to a Redis key. The value is either a bare decimal ("2000.5") or JSON
// {"price":"2000.5","timestamp":1700000000}.
type RedisFeed struct {
	client   *redis.Client
	key      string
	interval time.Duration
	sink     PriceSink
	logger   zerolog.Logger

	lastTs int64
}

func NewRedisFeed(client *redis.Client, key string, interval time.Duration, sink PriceSink, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client:   client,
		key:      key,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (f *RedisFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.poll(ctx); err != nil {
				f.logger.Warn().Err(err).Str("key", f.key).Msg("price poll failed")
			}
		}
	}
}

func (f *RedisFeed) poll(ctx context.Context) error {
	raw, err := f.client.Get(ctx, f.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", f.key, err)
	}

	p, err := ParseFeedValue(raw, time.Now().Unix())
	if err != nil {
		return err
	}
	if p.Timestamp <= f.lastTs {
		return nil
	}

	if err := f.sink(ctx, p); err != nil {
		return fmt.Errorf("forward price: %w", err)
	}
	f.lastTs = p.Timestamp
	return nil
}

type feedValue struct {
	Price     fpmath.Fixed `json:"price"`
	Timestamp int64        `json:"timestamp"`
}

// ParseFeedValue decodes a feed value. Bare decimals are stamped with now.
func ParseFeedValue(raw string, now int64) (PricePoint, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var v feedValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return PricePoint{}, fmt.Errorf("decode feed value: %w", err)
		}
		if v.Timestamp == 0 {
			v.Timestamp = now
		}
		if !v.Price.IsPositive() {
			return PricePoint{}, fmt.Errorf("feed price must be positive, got %s", v.Price)
		}
		return PricePoint{Timestamp: v.Timestamp, Price: v.Price}, nil
	}

	price, err := fpmath.Parse(raw)
	if err != nil {
		return PricePoint{}, err
	}
	if !price.IsPositive() {
		return PricePoint{}, fmt.Errorf("feed price must be positive, got %s", price)
	}
	return PricePoint{Timestamp: now, Price: price}, nil
}
