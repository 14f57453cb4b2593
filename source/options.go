package source

import (
	"time"

	"github.com/usnistgov/delila/internal/options"
)

const (
	defaultHeartbeatInterval = 100 * time.Millisecond
	defaultQueueSize         = 1024
	defaultReadTimeout       = 50 * time.Millisecond
)

type config struct {
	heartbeatInterval time.Duration
	queueSize         int
	readTimeout       time.Duration
	backoffMax        time.Duration
	deviceURL         string
}

func defaultConfig() *config {
	return &config{
		heartbeatInterval: defaultHeartbeatInterval,
		queueSize:         defaultQueueSize,
		readTimeout:       defaultReadTimeout,
		backoffMax:        5 * time.Second,
	}
}

// Option configures a Source at construction time.
type Option = options.Option[*config]

// WithHeartbeatInterval sets the maximum gap between published frames
// before a Heartbeat is sent in its place (spec.md §4.3, default 100ms).
func WithHeartbeatInterval(d time.Duration) Option {
	return options.NoError(func(c *config) { c.heartbeatInterval = d })
}

// WithQueueSize sets the bounded capacity of the read-to-decode queue.
func WithQueueSize(n int) Option {
	return options.NoError(func(c *config) { c.queueSize = n })
}

// WithReadTimeout sets the digitizer read timeout per ReadData call.
func WithReadTimeout(d time.Duration) Option {
	return options.NoError(func(c *config) { c.readTimeout = d })
}

// WithBackoffMax bounds the read-loop's retry backoff after a transient
// device error.
func WithBackoffMax(d time.Duration) Option {
	return options.NoError(func(c *config) { c.backoffMax = d })
}

// WithDeviceURL sets the url Configure passes to the digitizer's Open
// call (spec.md §6's device handle contract: "open(url) -> handle").
// Left empty for source.Emulator, which ignores it.
func WithDeviceURL(url string) Option {
	return options.NoError(func(c *config) { c.deviceURL = url })
}
