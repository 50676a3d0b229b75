// Package collector defines the metric-source contract and the concrete
// collectors shipped with the agent.
//
// A collector is any task that pushes samples onto the shared intake
// channel and exits when its context is cancelled. The supervisor treats
// a collector that stops on its own as a fatal fault.
package collector

import (
	"context"
	"time"

	"github.com/bostik/bucky3/internal/metrics"
)

// Collector produces samples onto the shared intake channel.
type Collector interface {
	// Name returns the collector's component name.
	Name() string

	// Run pushes samples onto intake until ctx is cancelled. It returns
	// nil on a clean cancellation-driven exit; any other return is treated
	// as the collector dying.
	Run(ctx context.Context, intake chan<- *metrics.Sample) error
}

// now returns the current time as fractional epoch seconds.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// send delivers a sample unless the context is cancelled first.
func send(ctx context.Context, intake chan<- *metrics.Sample, s *metrics.Sample) bool {
	select {
	case intake <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
