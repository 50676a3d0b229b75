// Package supervisor owns the whole-process topology: it starts collector
// and client tasks, fans samples from the shared intake queue out to every
// client channel, monitors task liveness, and sequences shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bostik/bucky3/internal/client"
	"github.com/bostik/bucky3/internal/collector"
	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/logging"
	"github.com/bostik/bucky3/internal/metrics"
)

// pollInterval bounds the intake wait so liveness checks stay responsive
// without a dedicated timer task.
const pollInterval = time.Second

const intakeSize = 4096

// clientChannelSize sizes each supervisor-to-client channel. Clients never
// block on network I/O while receiving, so the channel only smooths bursts.
const clientChannelSize = 1024

type collectorTask struct {
	c    collector.Collector
	done chan struct{}
}

type clientTask struct {
	pc *client.PushClient
	ch chan *metrics.Sample
}

// Supervisor coordinates the collector and client tasks around the shared
// intake queue. Configure it with AddCollector/AddClient, then Run.
type Supervisor struct {
	intake      chan *metrics.Sample
	collectors  []*collectorTask
	clients     []*clientTask
	tags        map[string]string
	joinTimeout time.Duration
	log         *logrus.Entry

	collectorCancel context.CancelFunc
	clientCancel    context.CancelFunc
}

// New creates a supervisor from the global configuration.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		intake:      make(chan *metrics.Sample, intakeSize),
		tags:        cfg.MetadataTags(),
		joinTimeout: cfg.JoinTimeout,
		log:         logging.Component("supervisor"),
	}
}

// AddCollector registers a collector task. The shared intake queue is its
// only write target.
func (s *Supervisor) AddCollector(c collector.Collector) {
	s.collectors = append(s.collectors, &collectorTask{
		c:    c,
		done: make(chan struct{}),
	})
}

// AddClient registers a push client for enc, paired with its dedicated
// supervisor-to-client channel.
func (s *Supervisor) AddClient(name string, enc client.Encoder, cfg config.ClientConfig) {
	ch := make(chan *metrics.Sample, clientChannelSize)
	s.clients = append(s.clients, &clientTask{
		pc: client.New(name, enc, ch, cfg),
		ch: ch,
	})
}

// RequestShutdown pushes the shutdown sentinel onto the intake queue so the
// main loop observes it on its next iteration. Safe to call from a signal
// handler goroutine.
func (s *Supervisor) RequestShutdown() {
	go func() { s.intake <- nil }()
}

// Run starts every task and executes the fan-out loop until a shutdown
// sentinel arrives or a task dies. The returned error is non-nil when any
// task died unexpectedly or did not stop within the join timeout; the
// caller turns that into a non-zero exit.
func (s *Supervisor) Run(ctx context.Context) error {
	collectorCtx, collectorCancel := context.WithCancel(ctx)
	clientCtx, clientCancel := context.WithCancel(ctx)
	s.collectorCancel = collectorCancel
	s.clientCancel = clientCancel
	defer collectorCancel()
	defer clientCancel()

	for _, ct := range s.collectors {
		go func(ct *collectorTask) {
			defer close(ct.done)
			if err := ct.c.Run(collectorCtx, s.intake); err != nil {
				s.log.Errorf("collector %s: %v", ct.c.Name(), err)
			}
		}(ct)
	}
	for _, cl := range s.clients {
		go cl.pc.Run(clientCtx)
	}
	s.log.Infof("started %d collectors, %d clients", len(s.collectors), len(s.clients))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case sample := <-s.intake:
			if sample == nil {
				return s.shutdown(nil)
			}
			s.forward(sample)
		case <-ticker.C:
			// Bounded wait elapsed; fall through to the liveness check.
		}
		if name := s.deadTask(); name != "" {
			return s.shutdown(fmt.Errorf("task %s died unexpectedly", name))
		}
	}
}

// forward delivers one logical copy of the sample to every client channel,
// with the global metadata tags merged in (sample metadata wins).
func (s *Supervisor) forward(sample *metrics.Sample) {
	base := sample
	if len(s.tags) > 0 {
		base = sample.Clone()
		if base.Metadata == nil {
			base.Metadata = make(map[string]string, len(s.tags))
		}
		for k, v := range s.tags {
			if _, ok := base.Metadata[k]; !ok {
				base.Metadata[k] = v
			}
		}
	}
	for _, cl := range s.clients {
		select {
		case cl.ch <- base.Clone():
		case <-cl.pc.Done():
			// Dead client; the liveness check after this iteration
			// turns it into a shutdown.
		}
	}
}

// deadTask reports the name of any task that has exited, or "".
func (s *Supervisor) deadTask() string {
	for _, ct := range s.collectors {
		select {
		case <-ct.done:
			return ct.c.Name()
		default:
		}
	}
	for _, cl := range s.clients {
		select {
		case <-cl.pc.Done():
			return cl.pc.Name()
		default:
		}
	}
	return ""
}

// shutdown stops collectors first, then asks every client to flush and
// exit, joining each with the configured timeout. Tasks still running
// after their grace period are force-cancelled and reported as errors.
func (s *Supervisor) shutdown(cause error) error {
	s.log.Info("shutting down")
	var errs []error
	if cause != nil {
		s.log.Error(cause)
		errs = append(errs, cause)
	}

	s.collectorCancel()
	for _, ct := range s.collectors {
		if !waitClosed(ct.done, s.joinTimeout) {
			errs = append(errs, fmt.Errorf("collector %s did not stop within %s", ct.c.Name(), s.joinTimeout))
		}
	}

	for _, cl := range s.clients {
		s.log.Infof("stopping client %s", cl.pc.Name())
		select {
		case cl.ch <- nil:
		case <-cl.pc.Done():
		case <-time.After(s.joinTimeout):
		}
	}
	forced := false
	for _, cl := range s.clients {
		if !waitClosed(cl.pc.Done(), s.joinTimeout) {
			s.log.Errorf("client %s didn't stop gracefully, terminating", cl.pc.Name())
			forced = true
		}
	}
	if forced {
		s.clientCancel()
		for _, cl := range s.clients {
			if !waitClosed(cl.pc.Done(), s.joinTimeout) {
				errs = append(errs, fmt.Errorf("client %s did not stop after forced termination", cl.pc.Name()))
			}
		}
		errs = append(errs, errors.New("shutdown required forced termination"))
	}

	return errors.Join(errs...)
}

func waitClosed(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
