package query

import "fmt"

// OptLevel selects which of intra-query cache, inter-query cache, and
// the versioned Bloom filter are enabled.
type OptLevel int

const (
	// Level0 keeps nothing across queries. Within a query it uses a page
	// cache of a single page and a node cache of a few records, so a page
	// read again with no other page read in between is served from that
	// cache rather than fetched again.
	Level0 OptLevel = iota
	// Level1 caches pages and nodes for the duration of one query only.
	Level1
	// Level2 caches pages and nodes across queries.
	Level2
	// Level3 adds the versioned Bloom filter on top of Level2's
	// cross-query caching.
	Level3
)

// Config is the driver's configuration surface: cache budget, the
// optimization level, and versioned Bloom filter sizing.
type Config struct {
	CacheSizeMB int
	OptLevel    OptLevel
	VBFBits     uint64
	VBFK        uint8

	// MaxRetries bounds the batched-fetch retry count before a
	// TransportFailed query result is surfaced.
	MaxRetries int

	// Strict, when true, terminates the run on the first Tampered
	// query instead of continuing to the next one.
	Strict bool
}

// Option configures a Config at construction, using the same
// functional-option pattern as the rest of this module.
type Option func(*Config)

// WithOptLevel overrides the default optimization level.
func WithOptLevel(level OptLevel) Option {
	return func(c *Config) { c.OptLevel = level }
}

// WithCacheSizeMB overrides the default page cache budget.
func WithCacheSizeMB(mb int) Option {
	return func(c *Config) { c.CacheSizeMB = mb }
}

// WithVBFSizing overrides the default Bloom filter bit count and hash
// round count.
func WithVBFSizing(bits uint64, k uint8) Option {
	return func(c *Config) {
		c.VBFBits = bits
		c.VBFK = k
	}
}

// WithMaxRetries overrides the default transport retry bound.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithStrict enables strict mode: the first Tampered query terminates
// the run.
func WithStrict() Option {
	return func(c *Config) { c.Strict = true }
}

// validate rejects parameters the query loop must never be entered
// with. Bloom filter sizing is checked by vbf's own constructor when a
// level-3 driver allocates the filter.
func (c Config) validate() error {
	if c.OptLevel < Level0 || c.OptLevel > Level3 {
		return fmt.Errorf("%w: opt_level %d outside 0-3", ErrConfiguration, c.OptLevel)
	}
	if c.CacheSizeMB < 1 {
		return fmt.Errorf("%w: cache_size_mb %d must be at least 1", ErrConfiguration, c.CacheSizeMB)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d must be non-negative", ErrConfiguration, c.MaxRetries)
	}
	return nil
}

// NewConfig builds a Config with its documented defaults, then applies
// opts in order.
func NewConfig(opts ...Option) Config {
	c := Config{
		CacheSizeMB: 500,
		OptLevel:    Level0,
		VBFBits:     10000,
		VBFK:        5,
		MaxRetries:  3,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
