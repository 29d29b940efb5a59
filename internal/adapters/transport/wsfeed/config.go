package wsfeed

import (
	"time"

	"feedthreads/internal/platform/config"
)

// Config tunes the upstream websocket connection
type Config struct {
	// URL is the ws:// or wss:// endpoint; empty disables the client
	URL   string
	Token string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ReadTimeout must exceed PingPeriod; every pong extends it
	ReadTimeout time.Duration
	PingPeriod  time.Duration
	AckTimeout  time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// RatePerSec and Burst pace outgoing frames
	RatePerSec float64
	Burst      int
	SendBuffer int
}

// DefaultConfig has no URL
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingPeriod:   25 * time.Second,
		AckTimeout:   10 * time.Second,
		ReconnectMin: 500 * time.Millisecond,
		ReconnectMax: 30 * time.Second,
		RatePerSec:   5,
		Burst:        5,
		SendBuffer:   64,
	}
}

// ConfigFromEnv reads FEED_WS_* settings
func ConfigFromEnv(cfg config.Conf) Config {
	d := DefaultConfig()
	c := cfg.Prefix("FEED_WS_")
	return Config{
		URL:          c.MayString("URL", ""),
		Token:        c.MayString("TOKEN", ""),
		DialTimeout:  c.MayDuration("DIAL_TIMEOUT", d.DialTimeout),
		WriteTimeout: c.MayDuration("WRITE_TIMEOUT", d.WriteTimeout),
		ReadTimeout:  c.MayDuration("READ_TIMEOUT", d.ReadTimeout),
		PingPeriod:   c.MayDuration("PING_PERIOD", d.PingPeriod),
		AckTimeout:   c.MayDuration("ACK_TIMEOUT", d.AckTimeout),
		ReconnectMin: c.MayDuration("RECONNECT_MIN", d.ReconnectMin),
		ReconnectMax: c.MayDuration("RECONNECT_MAX", d.ReconnectMax),
		RatePerSec:   float64(c.MayPositiveInt("RATE", int(d.RatePerSec))),
		Burst:        c.MayPositiveInt("BURST", d.Burst),
		SendBuffer:   c.MayPositiveInt("SEND_BUFFER", d.SendBuffer),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = d.PingPeriod
	}
	if c.ReadTimeout <= c.PingPeriod {
		c.ReadTimeout = 2 * c.PingPeriod
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = d.ReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = c.ReconnectMin
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = d.RatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}
