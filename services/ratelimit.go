package services

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RateLimitConfig is a fixed-window request budget
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" json:"window" validate:"gt=0"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests" validate:"gt=0"`
}

// Validate checks that both window and budget are positive
func (c RateLimitConfig) Validate() error {
	return validate.Struct(c)
}

var (
	// StrictRateLimit is meant for auth and write endpoints
	StrictRateLimit = RateLimitConfig{Window: time.Minute, MaxRequests: 5}
	// StandardRateLimit is the default for API endpoints
	StandardRateLimit = RateLimitConfig{Window: time.Minute, MaxRequests: 30}
	// LenientRateLimit is meant for public read endpoints
	LenientRateLimit = RateLimitConfig{Window: time.Minute, MaxRequests: 100}
)

// RateLimiterOptions tunes the in-memory store
type RateLimiterOptions struct {
	Shards        int           `yaml:"shards" validate:"gte=0"`
	MaxEntries    int           `yaml:"max_entries" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RateLimitStats provides statistics about rate limiter usage
type RateLimitStats struct {
	Entries       int64         `json:"entries"`
	EvictedCount  int64         `json:"evicted_count"`
	SweepCount    int64         `json:"sweep_count"`
	ExceededCount int64         `json:"exceeded_count"`
	LastSweepTime time.Time     `json:"last_sweep_time"`
	Uptime        time.Duration `json:"uptime"`
}

type rlKey struct {
	id     string
	window time.Duration
}

// rlRecord is live while now < resetAt
type rlRecord struct {
	count   int
	resetAt time.Time
}

type rlShard struct {
	mu      sync.Mutex
	records map[rlKey]*rlRecord
}

// RateLimiter counts requests per identifier in fixed windows.
// State is process-local; every instance of a scaled-out deployment keeps
// its own budget.
type RateLimiter struct {
	shards    []*rlShard
	perShard  int
	now       func() time.Time
	startTime time.Time

	evicted   atomic.Int64
	sweeps    atomic.Int64
	exceeded  atomic.Int64
	lastSweep atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// RateLimiterOption customizes a RateLimiter
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		if now != nil {
			rl.now = now
		}
	}
}

// NewRateLimiter creates a limiter and starts the background sweep.
// A negative SweepInterval disables sweeping.
func NewRateLimiter(opts RateLimiterOptions, options ...RateLimiterOption) *RateLimiter {
	if opts.Shards <= 0 {
		opts.Shards = 32
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 100000
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Minute
	}

	perShard := (opts.MaxEntries + opts.Shards - 1) / opts.Shards
	rl := &RateLimiter{
		shards:   make([]*rlShard, opts.Shards),
		perShard: perShard,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for i := range rl.shards {
		rl.shards[i] = &rlShard{records: make(map[rlKey]*rlRecord)}
	}
	for _, o := range options {
		o(rl)
	}
	rl.startTime = rl.now()

	if opts.SweepInterval > 0 {
		go rl.sweepLoop(opts.SweepInterval)
	}
	return rl
}

func (rl *RateLimiter) shardFor(id string) *rlShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return rl.shards[h.Sum32()%uint32(len(rl.shards))]
}

// normalizeRateLimit fills non-positive fields from StandardRateLimit
func normalizeRateLimit(cfg RateLimitConfig) RateLimitConfig {
	if cfg.Window <= 0 {
		cfg.Window = StandardRateLimit.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = StandardRateLimit.MaxRequests
	}
	return cfg
}

// CheckAndConsume counts one request for identifier and reports whether the
// budget of the current window is exceeded. The count keeps growing while
// exceeded.
func (rl *RateLimiter) CheckAndConsume(identifier string, cfg RateLimitConfig) bool {
	cfg = normalizeRateLimit(cfg)
	key := rlKey{id: identifier, window: cfg.Window}
	sh := rl.shardFor(identifier)
	now := rl.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok || !now.Before(rec.resetAt) {
		if !ok && len(sh.records) >= rl.perShard {
			rl.makeRoom(sh, now)
		}
		sh.records[key] = &rlRecord{count: 1, resetAt: now.Add(cfg.Window)}
		return false
	}

	rec.count++
	if rec.count > cfg.MaxRequests {
		rl.exceeded.Add(1)
		return true
	}
	return false
}

// RemainingRequests returns what is left of the budget in the current window
func (rl *RateLimiter) RemainingRequests(identifier string, cfg RateLimitConfig) int {
	cfg = normalizeRateLimit(cfg)
	rec, ok := rl.lookup(identifier, cfg)
	if !ok {
		return cfg.MaxRequests
	}
	if left := cfg.MaxRequests - rec.count; left > 0 {
		return left
	}
	return 0
}

// ResetTime returns when the current window closes, or now+window if none is active
func (rl *RateLimiter) ResetTime(identifier string, cfg RateLimitConfig) time.Time {
	cfg = normalizeRateLimit(cfg)
	rec, ok := rl.lookup(identifier, cfg)
	if !ok {
		return rl.now().Add(cfg.Window)
	}
	return rec.resetAt
}

// Now returns the limiter's current time
func (rl *RateLimiter) Now() time.Time { return rl.now() }

// Clear forgets the window for identifier
func (rl *RateLimiter) Clear(identifier string, cfg RateLimitConfig) {
	cfg = normalizeRateLimit(cfg)
	sh := rl.shardFor(identifier)
	sh.mu.Lock()
	delete(sh.records, rlKey{id: identifier, window: cfg.Window})
	sh.mu.Unlock()
}

// lookup returns a copy of the live record, if any
func (rl *RateLimiter) lookup(identifier string, cfg RateLimitConfig) (rlRecord, bool) {
	sh := rl.shardFor(identifier)
	now := rl.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[rlKey{id: identifier, window: cfg.Window}]
	if !ok || !now.Before(rec.resetAt) {
		return rlRecord{}, false
	}
	return *rec, true
}

// makeRoom drops expired records and, if the shard is still full, the one
// closest to expiry. Caller holds sh.mu.
func (rl *RateLimiter) makeRoom(sh *rlShard, now time.Time) {
	for k, rec := range sh.records {
		if !now.Before(rec.resetAt) {
			delete(sh.records, k)
		}
	}
	if len(sh.records) < rl.perShard {
		return
	}

	var oldestKey rlKey
	var oldest time.Time
	first := true
	for k, rec := range sh.records {
		if first || rec.resetAt.Before(oldest) {
			oldestKey, oldest, first = k, rec.resetAt, false
		}
	}
	if !first {
		delete(sh.records, oldestKey)
		rl.evicted.Add(1)
	}
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.stop:
			return
		}
	}
}

// Sweep deletes every expired record and returns how many were removed
func (rl *RateLimiter) Sweep() int {
	now := rl.now()
	removed := 0
	for _, sh := range rl.shards {
		sh.mu.Lock()
		for k, rec := range sh.records {
			if !now.Before(rec.resetAt) {
				delete(sh.records, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	rl.sweeps.Add(1)
	rl.lastSweep.Store(now.UnixNano())
	return removed
}

// Stats returns current rate limiter statistics
func (rl *RateLimiter) Stats() RateLimitStats {
	var entries int64
	for _, sh := range rl.shards {
		sh.mu.Lock()
		entries += int64(len(sh.records))
		sh.mu.Unlock()
	}
	stats := RateLimitStats{
		Entries:       entries,
		EvictedCount:  rl.evicted.Load(),
		SweepCount:    rl.sweeps.Load(),
		ExceededCount: rl.exceeded.Load(),
		Uptime:        rl.now().Sub(rl.startTime),
	}
	if ns := rl.lastSweep.Load(); ns != 0 {
		stats.LastSweepTime = time.Unix(0, ns)
	}
	return stats
}

// Stop ends the background sweep. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
