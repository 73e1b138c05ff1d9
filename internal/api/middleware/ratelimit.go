// ratelimit.go — ограничение частоты API-запросов арендатора.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/cryptvault/internal/api/errors"
	"github.com/bigkaa/cryptvault/internal/ratelimit"
)

// rateLimitedTotal — количество отклонённых по лимиту запросов.
var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cv_http_rate_limited_total",
	Help: "Количество HTTP-запросов, отклонённых лимитом частоты",
})

// RateLimit возвращает middleware, применяющий лимит к аутентифицированному
// арендатору. Запросы без принципала пропускаются. Недоступность
// счётчика не блокирует запрос.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), "api:"+p.ID())
			if err != nil {
				logger.Warn("Счётчик лимита API недоступен, проверка пропущена",
					slog.String("tenant_id", p.ID()),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				rateLimitedTotal.Inc()
				w.Header().Set("Retry-After", "60")
				apierrors.RateLimited(w, "Превышен лимит запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
