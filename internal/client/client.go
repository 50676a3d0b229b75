// Package client implements the push clients that ship buffered samples to
// remote backends.
//
// A [PushClient] runs the generic buffer/flush/retry loop; the
// backend-specific wire formats live behind the [Encoder] interface
// (plaintext carbon lines, NDJSON bulk uploads). Encoding never performs
// network I/O; all sends happen at flush granularity, and a failed flush
// keeps the buffer intact for the next attempt.
package client

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/logging"
	"github.com/bostik/bucky3/internal/metrics"
)

// Encoder turns samples into backend wire fragments and ships them.
type Encoder interface {
	// ProcessValues encodes one sample into zero or more output fragments.
	// It must not perform network I/O.
	ProcessValues(s *metrics.Sample) []string

	// PushChunk sends the buffered fragments to the backend in one
	// operation. Any returned error is treated as a connection failure:
	// the encoder must have dropped its socket so the next attempt
	// reconnects.
	PushChunk(chunk []string) error

	// Close releases the encoder's network resources.
	Close()
}

// PushClient buffers incoming samples and flushes them through its Encoder
// on a fixed interval. It moves between disconnected and connected purely
// as a side effect of flush outcomes; a connection failure leaves the
// buffer intact and the next flush transparently reconnects.
type PushClient struct {
	name          string
	enc           Encoder
	in            <-chan *metrics.Sample
	flushInterval time.Duration
	highWater     int

	buffer []string
	log    *logrus.Entry
	done   chan struct{}
}

// New creates a push client reading samples from in.
func New(name string, enc Encoder, in <-chan *metrics.Sample, cfg config.ClientConfig) *PushClient {
	return &PushClient{
		name:          name,
		enc:           enc,
		in:            in,
		flushInterval: cfg.FlushInterval,
		highWater:     cfg.HighWater,
		log:           logging.Component(name),
		done:          make(chan struct{}),
	}
}

// Name returns the client's component name.
func (c *PushClient) Name() string { return c.name }

// Done is closed when the client's loop has exited.
func (c *PushClient) Done() <-chan struct{} { return c.done }

// Run executes the client loop until a nil sentinel arrives on the input
// channel (flush-and-exit) or the context is cancelled (forced stop). On
// the sentinel path one last best-effort flush is attempted before exit.
func (c *PushClient) Run(ctx context.Context) {
	defer close(c.done)
	defer c.enc.Close()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	c.log.Info("started")
	for {
		select {
		case <-ctx.Done():
			c.log.Warn("forced stop")
			return
		case s, ok := <-c.in:
			if !ok || s == nil {
				c.log.Info("shutdown requested, flushing")
				c.flush()
				return
			}
			c.append(c.enc.ProcessValues(s))
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *PushClient) append(fragments []string) {
	if len(fragments) == 0 {
		return
	}
	c.buffer = append(c.buffer, fragments...)
	if c.highWater > 0 && len(c.buffer) > c.highWater {
		dropped := len(c.buffer) - c.highWater
		c.buffer = c.buffer[dropped:]
		c.log.Warnf("buffer above high-water mark, dropped %d oldest fragments", dropped)
	}
}

// flush pushes the current buffer through the encoder. On success exactly
// the pushed fragments are cleared; on failure the buffer is left intact
// and the send is retried on the next tick.
func (c *PushClient) flush() {
	if len(c.buffer) == 0 {
		return
	}
	chunk := c.buffer
	if err := c.enc.PushChunk(chunk); err != nil {
		c.log.Warnf("push of %d fragments failed, will retry: %v", len(chunk), err)
		return
	}
	c.buffer = c.buffer[len(chunk):]
	c.log.Debugf("pushed %d fragments", len(chunk))
}
