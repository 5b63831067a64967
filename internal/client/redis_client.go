package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/ComUnity/voiceid-service/internal/util/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen is returned while the breaker rejects commands.
var ErrCircuitOpen = errors.New("redis circuit breaker open")

// RedisConfig defines configuration for Redis client
type RedisConfig struct {
	URL            string               `yaml:"url" env:"REDIS_URL"`
	PoolSize       int                  `yaml:"pool_size"`
	MinIdleConns   int                  `yaml:"min_idle_conns"`
	MaxRetries     int                  `yaml:"max_retries"`
	DialTimeout    time.Duration        `yaml:"dial_timeout"`
	ReadTimeout    time.Duration        `yaml:"read_timeout"`
	WriteTimeout   time.Duration        `yaml:"write_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	FailureRatio float64       `yaml:"failure_ratio"`
	RecoveryTime time.Duration `yaml:"recovery_time"`
	MinRequests  uint64        `yaml:"min_requests"`
}

// LatencyObserver receives the duration and outcome of each instrumented call.
type LatencyObserver func(op string, d time.Duration, err error)

// RedisClient wraps redis.Client with tracing, a circuit breaker and JSON helpers.
type RedisClient struct {
	*redis.Client
	mu      sync.Mutex
	closed  bool
	cb      *circuitBreaker
	observe LatencyObserver
}

type RedisOption func(*RedisClient)

// WithLatencyObserver hooks command latency into a metrics backend.
func WithLatencyObserver(fn LatencyObserver) RedisOption {
	return func(c *RedisClient) { c.observe = fn }
}

type circuitBreaker struct {
	mu           sync.Mutex
	state        string // "closed", "open", "half-open"
	failures     uint64
	successes    uint64
	total        uint64
	lastFailure  time.Time
	failureRatio float64
	recoveryTime time.Duration
	minRequests  uint64
}

// NewRedisClient parses cfg.URL, pings the server and installs the tracing hook.
func NewRedisClient(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = cfg.PoolSize
	if opt.PoolSize == 0 {
		opt.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	opt.MinIdleConns = cfg.MinIdleConns
	if opt.MinIdleConns == 0 {
		opt.MinIdleConns = opt.PoolSize / 2
	}
	opt.MaxRetries = cfg.MaxRetries
	opt.DialTimeout = orDefault(cfg.DialTimeout, 5*time.Second)
	opt.ReadTimeout = orDefault(cfg.ReadTimeout, 3*time.Second)
	opt.WriteTimeout = orDefault(cfg.WriteTimeout, 3*time.Second)

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	rc := &RedisClient{Client: rdb}
	for _, o := range opts {
		o(rc)
	}
	if cfg.CircuitBreaker.Enabled {
		rc.cb = &circuitBreaker{
			state:        "closed",
			failureRatio: cfg.CircuitBreaker.FailureRatio,
			recoveryTime: cfg.CircuitBreaker.RecoveryTime,
			minRequests:  cfg.CircuitBreaker.MinRequests,
		}
	}
	rdb.AddHook(tracingHook{tracer: otel.Tracer("redis")})

	logger.Info("Redis client connected to %s (DB:%d)", opt.Addr, opt.DB)
	return rc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Close terminates the Redis client connection
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	logger.Info("Closing Redis client")
	return c.Client.Close()
}

// HealthCheck verifies Redis connectivity
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	return c.InstrumentedDo(ctx, "ping", func(ctx context.Context) error {
		if err := c.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
		return nil
	})
}

// InstrumentedDo runs fn behind the circuit breaker and reports its latency.
// redis.Nil is a miss, not a failure.
func (c *RedisClient) InstrumentedDo(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}
	start := time.Now()
	err := fn(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}
	if c.observe != nil {
		c.observe(op, time.Since(start), err)
	}
	return err
}

// CircuitBreakerState returns current circuit breaker status
func (c *RedisClient) CircuitBreakerState() string {
	if c.cb == nil {
		return "disabled"
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()
	return c.cb.state
}

type tracingHook struct {
	tracer trace.Tracer
}

func (t tracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (t tracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if !trace.SpanFromContext(ctx).IsRecording() {
			return next(ctx, cmd)
		}
		ctx, span := t.tracer.Start(ctx, "redis."+cmd.Name(), trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", cmd.Name()),
		)
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func (t tracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.String("db.system", "redis"),
				attribute.String("db.operation", "pipeline"),
				attribute.Int("db.command_count", len(cmds)),
			)
		}
		return next(ctx, cmds)
	}
}

func (c *RedisClient) isCircuitOpen() bool {
	if c.cb == nil {
		return false
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	if c.cb.state == "open" {
		if time.Since(c.cb.lastFailure) > c.cb.recoveryTime {
			c.cb.state = "half-open"
			c.cb.failures = 0
			c.cb.successes = 0
			c.cb.total = 0
			logger.Warn("Redis circuit moving to half-open state")
		} else {
			return true
		}
	}
	return false
}

func (c *RedisClient) recordFailure() {
	if c.cb == nil {
		return
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	c.cb.failures++
	c.cb.total++
	c.cb.lastFailure = time.Now()

	if c.cb.state == "half-open" {
		c.cb.state = "open"
		logger.Error("Redis circuit re-opened after failure")
		return
	}
	if c.cb.total >= c.cb.minRequests {
		ratio := float64(c.cb.failures) / float64(c.cb.total)
		if ratio >= c.cb.failureRatio {
			c.cb.state = "open"
			logger.Error("Redis circuit opened due to high failure ratio: %.2f", ratio)
		}
	}
}

func (c *RedisClient) recordSuccess() {
	if c.cb == nil {
		return
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	c.cb.successes++
	c.cb.total++

	if c.cb.state == "half-open" && c.cb.successes >= c.cb.minRequests/2 {
		c.cb.state = "closed"
		c.cb.failures = 0
		c.cb.successes = 0
		c.cb.total = 0
		logger.Warn("Redis circuit closed after successful operations")
	}
}

var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// IncrementWithTTL atomically increments key, starting its TTL on the first increment.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := c.InstrumentedDo(ctx, "incr", func(ctx context.Context) error {
		var err error
		n, err = incrWithTTL.Run(ctx, c.Client, []string{key}, int(ttl.Seconds())).Int64()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("incrementWithTTL failed: %w", err)
	}
	return n, nil
}

// SetJSON marshals and sets a JSON value
func (c *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.InstrumentedDo(ctx, "set", func(ctx context.Context) error {
		return c.Set(ctx, key, data, ttl).Err()
	})
}

// GetJSON retrieves and unmarshals a JSON value. A missing key yields redis.Nil.
func (c *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := c.InstrumentedDo(ctx, "get", func(ctx context.Context) error {
		var err error
		data, err = c.Get(ctx, key).Bytes()
		return err
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// GetDelJSON reads and removes key in one round trip.
func (c *RedisClient) GetDelJSON(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := c.InstrumentedDo(ctx, "getdel", func(ctx context.Context) error {
		var err error
		data, err = c.GetDel(ctx, key).Bytes()
		return err
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetIfAbsent sets key only if it does not exist and reports whether it did.
func (c *RedisClient) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.InstrumentedDo(ctx, "setnx", func(ctx context.Context) error {
		var err error
		ok, err = c.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	return ok, err
}
