package query

import (
	"VaultLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultCacheTTL = 5 * time.Second

// CachedService wraps a QueryService with a Redis read-through cache for
// journal history. In-memory reads are already cheap and stay uncached.
// Pages are immutable once their cursor is set, so only the newest page can
// be stale, and only for the TTL.
type CachedService struct {
	*QueryService
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCachedService(qs *QueryService, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *CachedService {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedService{
		QueryService: qs,
		rdb:          rdb,
		ttl:          ttl,
		metrics:      metrics,
		logger:       logger,
	}
}

// ConnectRedis parses a redis:// URL and verifies the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (cs *CachedService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) (*JournalHistoryPage, error) {
	key := HistoryCacheKey(accountPath, clampLimit(limit), beforeSequence)

	data, err := cs.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var page JournalHistoryPage
		if json.Unmarshal(data, &page) == nil {
			cs.record("hit")
			return &page, nil
		}
	} else if err != redis.Nil {
		cs.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	cs.record("miss")

	page, err := cs.QueryService.GetJournalHistory(ctx, accountPath, limit, beforeSequence)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(page); err == nil {
		if err := cs.rdb.Set(ctx, key, data, cs.ttl).Err(); err != nil {
			cs.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return page, nil
}

// HistoryCacheKey identifies one history page.
func HistoryCacheKey(accountPath string, limit int, beforeSequence *int64) string {
	cursor := "head"
	if beforeSequence != nil {
		cursor = fmt.Sprintf("%d", *beforeSequence)
	}
	return fmt.Sprintf("vault:history:%s:%s:%d", accountPath, cursor, limit)
}

func (cs *CachedService) record(result string) {
	if cs.metrics != nil {
		cs.metrics.CacheRequests.WithLabelValues(result).Inc()
	}
}
