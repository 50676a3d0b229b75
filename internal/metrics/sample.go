package metrics

// Sample is one measurement event moving through the pipeline: a bucket
// (metric family), a set of named numeric values, an optional event
// timestamp, and free-form metadata tags.
type Sample struct {
	// ReceiveTimestamp is when the collector observed the measurement,
	// as fractional epoch seconds.
	ReceiveTimestamp float64

	// Bucket identifies the metric family (e.g. "cpu", "stats_counters").
	// Never empty, never mutated after creation.
	Bucket string

	// Values maps metric field names to numeric values.
	Values map[string]float64

	// Timestamp is the optional event time as fractional epoch seconds.
	// Zero means absent; use EffectiveTimestamp.
	Timestamp float64

	// Metadata carries free-form tags (host, mount point, metric name).
	// An empty value stands for a valueless tag.
	Metadata map[string]string
}

// EffectiveTimestamp returns the event time, falling back to the receive
// time when no explicit timestamp was set.
func (s *Sample) EffectiveTimestamp() float64 {
	if s.Timestamp != 0 {
		return s.Timestamp
	}
	return s.ReceiveTimestamp
}

// Clone returns a deep copy. The supervisor hands each client its own copy
// so clients can merge metadata into values without sharing mutable state.
func (s *Sample) Clone() *Sample {
	c := &Sample{
		ReceiveTimestamp: s.ReceiveTimestamp,
		Bucket:           s.Bucket,
		Timestamp:        s.Timestamp,
	}
	if s.Values != nil {
		c.Values = make(map[string]float64, len(s.Values))
		for k, v := range s.Values {
			c.Values[k] = v
		}
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
