package financial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRateCacheTTL = 15 * time.Minute

// cacheClient is the part of *redis.Client the rate cache needs.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type cachedRate struct {
	Rate *float64 `json:"rate"`
}

// CachedRateRepository serves negotiated-rate lookups from Redis, falling
// back to the wrapped repository on a miss. Absent rates are cached too.
// Cache failures are logged and never fail a lookup.
type CachedRateRepository struct {
	next   NegotiatedRateRepository
	client cacheClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedRateRepository(next NegotiatedRateRepository, client cacheClient, ttl time.Duration, logger zerolog.Logger) *CachedRateRepository {
	if ttl <= 0 {
		ttl = DefaultRateCacheTTL
	}
	return &CachedRateRepository{next: next, client: client, ttl: ttl, logger: logger}
}

func rateCacheKey(institutionID, procedureID uuid.UUID, on time.Time) string {
	return fmt.Sprintf("provider_rate:%s:%s:%s", institutionID, procedureID, on.Format(time.DateOnly))
}

func (r *CachedRateRepository) GetNegotiatedRate(ctx context.Context, institutionID, procedureID uuid.UUID, on time.Time) (*float64, error) {
	key := rateCacheKey(institutionID, procedureID, on)

	raw, err := r.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cr cachedRate
		if uerr := json.Unmarshal([]byte(raw), &cr); uerr == nil {
			return cr.Rate, nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding malformed cached rate")
	case !errors.Is(err, redis.Nil):
		r.logger.Warn().Err(err).Str("key", key).Msg("rate cache get failed")
	}

	rate, err := r.next.GetNegotiatedRate(ctx, institutionID, procedureID, on)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cachedRate{Rate: rate})
	if err == nil {
		if serr := r.client.Set(ctx, key, payload, r.ttl).Err(); serr != nil {
			r.logger.Warn().Err(serr).Str("key", key).Msg("rate cache set failed")
		}
	}
	return rate, nil
}

func (r *CachedRateRepository) ListByInstitution(ctx context.Context, institutionID uuid.UUID, limit, offset int) ([]*NegotiatedRate, int, error) {
	return r.next.ListByInstitution(ctx, institutionID, limit, offset)
}

const invalidateScanCount = 500

// Invalidate drops every cached rate of the given institutions, present or
// absent, and returns how many keys were deleted. Rate imports call it so
// lookups see the new sheet before the TTL runs out.
func (r *CachedRateRepository) Invalidate(ctx context.Context, institutionIDs ...uuid.UUID) (int64, error) {
	var deleted int64
	for _, id := range institutionIDs {
		match := fmt.Sprintf("provider_rate:%s:*", id)
		var cursor uint64
		for {
			keys, next, err := r.client.Scan(ctx, cursor, match, invalidateScanCount).Result()
			if err != nil {
				return deleted, fmt.Errorf("scan %s: %w", match, err)
			}
			if len(keys) > 0 {
				n, err := r.client.Del(ctx, keys...).Result()
				if err != nil {
					return deleted, fmt.Errorf("delete cached rates of %s: %w", id, err)
				}
				deleted += n
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	r.logger.Debug().Int("institutions", len(institutionIDs)).Int64("keys", deleted).Msg("rate cache invalidated")
	return deleted, nil
}
