package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinpulse/logger"
)

// ReportRateLimited counts a 429 from an upstream API and logs it with the
// delay the provider asked for, if any.
func ReportRateLimited(log *logger.Log, provider, endpoint string, retryAfter time.Duration) {
	fields := logger.Fields{
		"provider": strings.ToLower(provider),
		"endpoint": endpoint,
	}
	if retryAfter > 0 {
		fields["retry_after"] = retryAfter.String()
	}
	EmitMetric(log, "rate_limit", "rate_limit_exceeded", int64(1), "counter", fields)
	if log == nil {
		log = logger.GetLogger()
	}
	log.WithComponent("rate_limit").WithFields(fields).Warn("rate limit exceeded")
}

// ParseRetryAfter reads a Retry-After header given either as delta seconds
// or as an HTTP date. Anything else yields zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
