package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "strongbox_limiter"

// NewRateLimiter creates a Gin middleware for rate limiting.
// requests is the number of requests allowed per period.
// period is a duration string (e.g., "1m", "1h", "24h").
// Counters live in redis when rdb is non-nil so several servers share them,
// otherwise in process memory.
func NewRateLimiter(requests int64, period string, rdb *redis.Client) (gin.HandlerFunc, error) {
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}
	if requests <= 0 {
		return nil, fmt.Errorf("rate limit requests must be positive, got %d", requests)
	}

	rate := limiter.Rate{
		Period: duration,
		Limit:  requests,
	}

	var store limiter.Store
	if rdb != nil {
		store, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
			Prefix:   rateLimitPrefix,
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: 30 * time.Second,
		})
	}

	return mgin.NewMiddleware(limiter.New(store, rate)), nil
}
