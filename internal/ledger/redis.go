package ledger

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/pipeline"
)

const (
	defaultKeyPrefix = "catalog-export"
	defaultRunTTL    = 30 * 24 * time.Hour
	// recentRunsCap bounds the list of recent run IDs.
	recentRunsCap = 100
)

// RedisLedger stores each run as a JSON value with a TTL and keeps a capped
// list of recent run IDs.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(ctx context.Context, cfg config.LedgerConfig) (*RedisLedger, error) {
	const op = "open redis ledger"

	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, domain.E(domain.KindConfig, op, err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "redis ping failed"))
	}

	return newRedisLedger(client, cfg), nil
}

func newRedisLedger(client *redis.Client, cfg config.LedgerConfig) *RedisLedger {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultRunTTL
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func buildRedisOptions(cfg config.LedgerConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis url")
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

func (l *RedisLedger) runKey(id string) string {
	return l.prefix + ":run:" + id
}

func (l *RedisLedger) recentKey() string {
	return l.prefix + ":runs:recent"
}

func (l *RedisLedger) Record(ctx context.Context, run *pipeline.Run) error {
	const op = "record run"

	payload, err := json.Marshal(run)
	if err != nil {
		return domain.E(domain.KindSerialization, op, err)
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, l.runKey(run.ID), payload, l.ttl)
	pipe.LPush(ctx, l.recentKey(), run.ID)
	pipe.LTrim(ctx, l.recentKey(), 0, recentRunsCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.E(domain.KindNetwork, op, errors.Wrap(err, "redis write failed"))
	}
	return nil
}

func (l *RedisLedger) Recent(ctx context.Context, n int) ([]*pipeline.Run, error) {
	const op = "recent runs"

	if n <= 0 {
		return nil, nil
	}

	ids, err := l.client.LRange(ctx, l.recentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "redis lrange failed"))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.runKey(id)
	}
	values, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "redis mget failed"))
	}

	return decodeRuns(values)
}

// decodeRuns skips entries whose value expired.
func decodeRuns(values []interface{}) ([]*pipeline.Run, error) {
	runs := make([]*pipeline.Run, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var run pipeline.Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, domain.E(domain.KindSerialization, "recent runs", errors.Wrap(err, "decode run"))
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
