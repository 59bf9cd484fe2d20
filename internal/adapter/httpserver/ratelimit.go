package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/dixxi1208/GryazBot/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	rateLimiterExpiry = 5 * time.Minute
	maxBridgeIDLength = 64
)

// BridgeHeader names the relaying bridge. Bridges sharing one egress IP get
// separate budgets when they set it.
const BridgeHeader = "X-Gryaz-Bridge"

type webhookLimit struct {
	perSecond float64
	burst     int
	throttled prometheus.Counter // may be nil
}

// bridgeIdentity keys the budget by bridge name when present, else by client IP.
func bridgeIdentity(c echo.Context) (string, error) {
	if id := c.Request().Header.Get(BridgeHeader); id != "" && len(id) <= maxBridgeIDLength {
		return "bridge:" + id, nil
	}
	return "ip:" + c.RealIP(), nil
}

// retryAfterSeconds is how long until one more token accrues, at least one second.
func retryAfterSeconds(perSecond float64) int {
	if perSecond <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/perSecond)))
}

func newRateLimiter(limit webhookLimit) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit.perSecond),
			Burst:     limit.burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := strconv.Itoa(retryAfterSeconds(limit.perSecond))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: bridgeIdentity,
		Store:               store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if limit.throttled != nil {
				limit.throttled.Inc()
			}
			slog.WarnContext(c.Request().Context(), "Webhook event throttled", "client", identifier)

			c.Response().Header().Set("Retry-After", retryAfter)
			resp := (&apperrors.Error{Type: apperrors.TypeCooldown, Message: "rate limit exceeded"}).ToResponse()
			return c.JSON(http.StatusTooManyRequests, resp)
		},
	})
}
