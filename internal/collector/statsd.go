package collector

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/logging"
	"github.com/bostik/bucky3/internal/metrics"
)

// StatsdCollector listens for statsd datagrams on a UDP socket, aggregates
// them per interval and emits one sample per metric name into the
// configured buckets. Entries not updated within their timeout are expired.
type StatsdCollector struct {
	cfg config.StatsdConfig
	log *logrus.Entry

	counters map[string]float64
	gauges   map[string]float64
	timers   map[string][]float64
	sets     map[string]map[string]struct{}
	lastSeen map[string]time.Time
}

// NewStatsdCollector creates a statsd collector from its config section.
func NewStatsdCollector(cfg config.StatsdConfig) *StatsdCollector {
	return &StatsdCollector{
		cfg:      cfg,
		log:      logging.Component("statsd"),
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		timers:   make(map[string][]float64),
		sets:     make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// Name returns the collector's component name.
func (c *StatsdCollector) Name() string { return "statsd" }

// Run binds the UDP socket and loops until ctx is cancelled: datagrams are
// parsed as they arrive, aggregates are emitted every interval, and one
// final emit happens on shutdown so a short-lived agent still reports.
func (c *StatsdCollector) Run(ctx context.Context, intake chan<- *metrics.Sample) error {
	addr := net.JoinHostPort(c.cfg.BindIP, strconv.Itoa(c.cfg.BindPort))
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("statsd listen %s: %w", addr, err)
	}
	defer pc.Close()
	c.log.Infof("listening on %s", addr)

	packets := make(chan []byte, 128)
	go func() {
		defer close(packets)
		buf := make([]byte, 65536)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				// Closed socket on shutdown, or a transient read error.
				if ctx.Err() != nil {
					return
				}
				c.log.Debugf("read error: %v", err)
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case packets <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pc.Close()
			c.emit(ctx, intake)
			return nil
		case data, ok := <-packets:
			if !ok {
				return fmt.Errorf("statsd socket closed unexpectedly")
			}
			c.handlePacket(string(data))
		case <-ticker.C:
			c.emit(ctx, intake)
		}
	}
}

// handlePacket parses every line of one datagram. Malformed lines are
// logged and skipped; they never fail the collector.
func (c *StatsdCollector) handlePacket(data string) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := c.handleLine(line); err != nil {
			c.log.Debugf("bad line %q: %v", line, err)
		}
	}
}

// handleLine parses one "name:value|type[|@rate]" metric line.
func (c *StatsdCollector) handleLine(line string) error {
	name, rest, found := strings.Cut(line, ":")
	if !found || name == "" {
		return fmt.Errorf("missing name separator")
	}
	fields := strings.Split(rest, "|")
	if len(fields) < 2 {
		return fmt.Errorf("missing type field")
	}
	rawValue, kind := fields[0], fields[1]

	rate := 1.0
	if len(fields) > 2 && strings.HasPrefix(fields[2], "@") {
		r, err := strconv.ParseFloat(fields[2][1:], 64)
		if err != nil || r <= 0 || r > 1 {
			return fmt.Errorf("invalid sample rate %q", fields[2])
		}
		rate = r
	}

	switch kind {
	case "c":
		v, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return fmt.Errorf("invalid counter value %q", rawValue)
		}
		c.counters[name] += v / rate
	case "g":
		v, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return fmt.Errorf("invalid gauge value %q", rawValue)
		}
		if strings.HasPrefix(rawValue, "+") || strings.HasPrefix(rawValue, "-") {
			c.gauges[name] += v
		} else {
			c.gauges[name] = v
		}
	case "ms":
		v, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return fmt.Errorf("invalid timer value %q", rawValue)
		}
		c.timers[name] = append(c.timers[name], v)
	case "s":
		members, ok := c.sets[name]
		if !ok {
			members = make(map[string]struct{})
			c.sets[name] = members
		}
		members[rawValue] = struct{}{}
	default:
		return fmt.Errorf("unknown metric type %q", kind)
	}
	c.lastSeen[name] = time.Now()
	return nil
}

// emit turns the current aggregates into samples. Counters, timers and
// sets reset each interval; gauges keep their last value until they
// expire.
func (c *StatsdCollector) emit(ctx context.Context, intake chan<- *metrics.Sample) {
	ts := now()
	interval := c.cfg.Interval.Seconds()

	for name, count := range c.counters {
		if c.expired(name, c.cfg.CountersTimeout) {
			delete(c.counters, name)
			continue
		}
		c.push(ctx, intake, c.cfg.CountersName, name, ts, map[string]float64{
			"count": count,
			"rate":  count / interval,
		})
		c.counters[name] = 0
	}
	for name, value := range c.gauges {
		if c.expired(name, c.cfg.GaugesTimeout) {
			delete(c.gauges, name)
			continue
		}
		c.push(ctx, intake, c.cfg.GaugesName, name, ts, map[string]float64{
			"value": value,
		})
	}
	for name, values := range c.timers {
		if c.expired(name, c.cfg.TimersTimeout) {
			delete(c.timers, name)
			continue
		}
		if len(values) == 0 {
			continue
		}
		c.push(ctx, intake, c.cfg.TimersName, name, ts, timerStats(values))
		c.timers[name] = nil
	}
	for name, members := range c.sets {
		if c.expired(name, c.cfg.SetsTimeout) {
			delete(c.sets, name)
			continue
		}
		c.push(ctx, intake, c.cfg.SetsName, name, ts, map[string]float64{
			"count": float64(len(members)),
		})
		c.sets[name] = make(map[string]struct{})
	}
}

func (c *StatsdCollector) expired(name string, timeout time.Duration) bool {
	seen, ok := c.lastSeen[name]
	if !ok {
		return true
	}
	if time.Since(seen) > timeout {
		delete(c.lastSeen, name)
		return true
	}
	return false
}

func (c *StatsdCollector) push(ctx context.Context, intake chan<- *metrics.Sample, bucket, name string, ts float64, values map[string]float64) {
	send(ctx, intake, &metrics.Sample{
		ReceiveTimestamp: ts,
		Bucket:           bucket,
		Values:           values,
		Metadata:         map[string]string{"name": name},
	})
}

// timerStats summarizes one interval's timer observations.
func timerStats(values []float64) map[string]float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	count := float64(len(sorted))
	mean := sum / count

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return map[string]float64{
		"count":  count,
		"lower":  sorted[0],
		"upper":  sorted[len(sorted)-1],
		"mean":   mean,
		"median": median,
		"std":    stddev(sorted, mean),
	}
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
