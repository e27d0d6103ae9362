package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arrow3/storefront/internal/redisx"
)

// RateLimit counts requests per client IP in Redis. Counter errors fail
// open; throttling is not worth refusing orders over.
func RateLimit(rdb *redis.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := fmt.Sprintf(redisx.KeyRateLimit, r.RemoteAddr)

			current, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if current == 1 {
				rdb.Expire(ctx, key, window)
			}
			if current > int64(limit) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
