package dispatcher

import "time"

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultBatchSize      = 25
	DefaultLockTTL        = 60 * time.Second
	DefaultFailureBackoff = 5 * time.Minute
)

type Config struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	// LockTTL wins over LockTTLMillis when both are set.
	LockTTL        time.Duration
	LockTTLMillis  int64
	FailureBackoff time.Duration
}

func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LockTTL <= 0 {
		if c.LockTTLMillis > 0 {
			c.LockTTL = time.Duration(c.LockTTLMillis) * time.Millisecond
		} else {
			c.LockTTL = DefaultLockTTL
		}
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = DefaultFailureBackoff
	}
	return c
}
