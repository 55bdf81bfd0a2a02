package relay

import "time"

// Config holds per-session tuning shared by every transport.
type Config struct {
	AuthTimeout     time.Duration
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	RateEvents      int
	RateWindow      time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:     defaultAuthTimeout,
		ReadIdleTimeout: defaultReadIdleTimeout,
		WriteTimeout:    defaultWriteTimeout,
		SendQueueSize:   defaultSendQueueSize,
		RateEvents:      rateLimitEvents,
		RateWindow:      rateLimitWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}
