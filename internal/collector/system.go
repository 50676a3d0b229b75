package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/logging"
	"github.com/bostik/bucky3/internal/metrics"
)

// SystemCollector samples local CPU, memory and disk statistics on a fixed
// interval. CPU percentages are delta-based, so the first interval only
// primes the previous reading and emits nothing for the cpu bucket.
type SystemCollector struct {
	cfg config.SystemConfig
	log *logrus.Entry

	prevCPU *cpu.TimesStat
}

// NewSystemCollector creates a system stats collector from its config section.
func NewSystemCollector(cfg config.SystemConfig) *SystemCollector {
	return &SystemCollector{
		cfg: cfg,
		log: logging.Component("system"),
	}
}

// Name returns the collector's component name.
func (c *SystemCollector) Name() string { return "system" }

// Run samples on every tick until ctx is cancelled.
func (c *SystemCollector) Run(ctx context.Context, intake chan<- *metrics.Sample) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.log.Infof("sampling every %s", c.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collect(ctx, intake)
		}
	}
}

func (c *SystemCollector) collect(ctx context.Context, intake chan<- *metrics.Sample) {
	ts := now()
	c.collectCPU(ctx, intake, ts)
	c.collectMemory(ctx, intake, ts)
	c.collectDisk(ctx, intake, ts)
}

func (c *SystemCollector) collectCPU(ctx context.Context, intake chan<- *metrics.Sample, ts float64) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		if err != nil {
			c.log.Debugf("cpu times: %v", err)
		}
		return
	}
	cur := times[0]
	prev := c.prevCPU
	c.prevCPU = &cur
	if prev == nil {
		return
	}

	dUser := cur.User - prev.User
	dSystem := cur.System - prev.System
	dIdle := cur.Idle - prev.Idle
	dIowait := cur.Iowait - prev.Iowait
	dTotal := dUser + dSystem + dIdle + dIowait +
		(cur.Nice - prev.Nice) + (cur.Steal - prev.Steal) +
		(cur.Irq - prev.Irq) + (cur.Softirq - prev.Softirq)
	if dTotal <= 0 {
		return
	}

	send(ctx, intake, &metrics.Sample{
		ReceiveTimestamp: ts,
		Bucket:           "cpu",
		Values: map[string]float64{
			"user":   dUser / dTotal * 100,
			"system": dSystem / dTotal * 100,
			"idle":   dIdle / dTotal * 100,
			"iowait": dIowait / dTotal * 100,
			"usage":  (dTotal - dIdle) / dTotal * 100,
		},
	})
}

func (c *SystemCollector) collectMemory(ctx context.Context, intake chan<- *metrics.Sample, ts float64) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.log.Debugf("virtual memory: %v", err)
		return
	}
	send(ctx, intake, &metrics.Sample{
		ReceiveTimestamp: ts,
		Bucket:           "memory",
		Values: map[string]float64{
			"total":     float64(vm.Total),
			"used":      float64(vm.Used),
			"free":      float64(vm.Free),
			"available": float64(vm.Available),
			"cached":    float64(vm.Cached),
			"buffers":   float64(vm.Buffers),
			"used_pct":  vm.UsedPercent,
		},
	})
}

func (c *SystemCollector) collectDisk(ctx context.Context, intake chan<- *metrics.Sample, ts float64) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.log.Debugf("disk partitions: %v", err)
		return
	}
	for _, part := range parts {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			c.log.Debugf("disk usage %s: %v", part.Mountpoint, err)
			continue
		}
		send(ctx, intake, &metrics.Sample{
			ReceiveTimestamp: ts,
			Bucket:           "disk",
			Values: map[string]float64{
				"total":    float64(usage.Total),
				"used":     float64(usage.Used),
				"free":     float64(usage.Free),
				"used_pct": usage.UsedPercent,
			},
			Metadata: map[string]string{"mount": part.Mountpoint},
		})
	}
}
