package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

type RateLimitConfig = config.RateLimitConfig

// Counter is the fixed-window store behind the limiter. repository.CounterStore satisfies it.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CallRateLimiter caps how often outbound verification calls may be requested,
// per destination phone and per requesting address.
type CallRateLimiter struct {
	store     Counter
	cfg       RateLimitConfig
	whitelist []*net.IPNet
}

func NewCallRateLimiter(store Counter, cfg RateLimitConfig) *CallRateLimiter {
	return &CallRateLimiter{
		store:     store,
		cfg:       cfg,
		whitelist: mustParseCIDRs(cfg.WhitelistedIPs),
	}
}

const maxInitiateBody = 16 << 10

func (l *CallRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if ipInCIDRs(net.ParseIP(ip), l.whitelist) {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxInitiateBody))
		_ = r.Body.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var req struct {
			Phone string `json:"phone"`
		}
		// malformed bodies are rejected by the handler
		_ = json.Unmarshal(body, &req)
		phone := util.NormalizePhone(req.Phone)

		if retry, err := l.check(r.Context(), phone, ip); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

type window struct {
	key   string
	max   int
	ttl   time.Duration
	label string
}

func (l *CallRateLimiter) check(ctx context.Context, phone, ip string) (time.Duration, error) {
	var windows []window
	if phone != "" {
		windows = append(windows,
			window{"ratelimit:phone:day:" + phone, l.cfg.MaxPerPhonePerDay, 24 * time.Hour, "daily call limit exceeded"},
			window{"ratelimit:phone:hour:" + phone, l.cfg.MaxPerPhonePerHour, time.Hour, "hourly call limit exceeded"},
		)
	}
	windows = append(windows, window{"ratelimit:ip:minute:" + ip, l.cfg.MaxPerIPPerMinute, time.Minute, "too many requests per minute"})

	for _, win := range windows {
		if win.max <= 0 {
			continue
		}
		if !l.allow(ctx, win) {
			return win.ttl, errors.New(win.label)
		}
	}
	return 0, nil
}

func (l *CallRateLimiter) allow(ctx context.Context, win window) bool {
	n, err := l.store.Increment(ctx, win.key, win.ttl)
	if err != nil {
		if l.cfg.StrictOnFailure {
			logger.Errorf("CallRateLimiter: blocking request on store failure, key=%s, err=%v", maskKey(win.key), err)
			return false
		}
		logger.Warnf("CallRateLimiter: store failure, allowing request, key=%s, err=%v", maskKey(win.key), err)
		return true
	}
	return n <= int64(win.max)
}

func maskKey(key string) string {
	i := strings.LastIndex(key, ":")
	if i < 0 || !strings.Contains(key, ":phone:") {
		return key
	}
	return key[:i+1] + util.MaskPhone(key[i+1:])
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
