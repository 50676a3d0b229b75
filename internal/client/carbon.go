package client

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/metrics"
	"github.com/bostik/bucky3/internal/transport"
)

// CarbonEncoder produces the plaintext line protocol understood by
// carbon/graphite: one "<dotted.name> <value> <timestamp>\n" line per
// metric field, shipped as a single write per flush.
type CarbonEncoder struct {
	conn        *transport.Connector
	nameMapping []string
}

// NewCarbonEncoder creates a carbon encoder sending through conn.
func NewCarbonEncoder(cfg config.CarbonConfig, conn *transport.Connector) *CarbonEncoder {
	return &CarbonEncoder{
		conn:        conn,
		nameMapping: cfg.NameMapping,
	}
}

// buildName constructs the dotted metric name from metadata: values of the
// configured name-mapping keys come first in configured order, values of
// all remaining keys follow sorted by key. The result is independent of
// map iteration order.
func (e *CarbonEncoder) buildName(metadata map[string]string) string {
	rest := make(map[string]string, len(metadata))
	for k, v := range metadata {
		rest[k] = v
	}
	var parts []string
	for _, k := range e.nameMapping {
		if v, ok := rest[k]; ok {
			if v != "" {
				parts = append(parts, v)
			}
			delete(rest, k)
		}
	}
	keys := make([]string, 0, len(rest))
	for k := range rest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// Valueless tags carry no name component.
		if rest[k] != "" {
			parts = append(parts, rest[k])
		}
	}
	return strings.Join(parts, ".")
}

// ProcessValues encodes every metric field as one independent line. Each
// field's name is built from the sample metadata augmented with the bucket
// and the field key.
func (e *CarbonEncoder) ProcessValues(s *metrics.Sample) []string {
	ts := int64(s.EffectiveTimestamp())
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		meta := make(map[string]string, len(s.Metadata)+2)
		for mk, mv := range s.Metadata {
			meta[mk] = mv
		}
		meta["bucket"] = s.Bucket
		meta["value"] = k
		name := e.buildName(meta)
		value := strconv.FormatFloat(s.Values[k], 'f', -1, 64)
		lines = append(lines, fmt.Sprintf("%s %s %d\n", name, value, ts))
	}
	return lines
}

// PushChunk concatenates the buffered lines and sends the whole payload in
// one write on the connector's socket.
func (e *CarbonEncoder) PushChunk(chunk []string) error {
	payload := strings.Join(chunk, "")
	return e.conn.Write([]byte(payload))
}

// Close drops the connector's socket.
func (e *CarbonEncoder) Close() { e.conn.Drop() }
