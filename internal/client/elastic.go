package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/metrics"
	"github.com/bostik/bucky3/internal/transport"
)

// IndexFunc resolves the target index for a document. It is called with
// the sample bucket, the document (bucket already injected) and the
// effective timestamp; returning an empty string drops the sample.
type IndexFunc func(bucket string, doc map[string]any, timestamp float64) string

// ElasticEncoder produces NDJSON bulk-action pairs and ships them with one
// HTTP bulk-upload request per flush. The HTTP exchange is framed directly
// onto the transport connector's socket rather than through a pooled
// client, so connection lifecycle stays under the push client's control.
type ElasticEncoder struct {
	conn        *transport.Connector
	indexName   string
	indexFunc   IndexFunc
	typeName    string
	compression string
	sendTimeout time.Duration
}

// NewElasticEncoder creates a bulk NDJSON encoder sending through conn.
func NewElasticEncoder(cfg config.ElasticConfig, conn *transport.Connector) *ElasticEncoder {
	return &ElasticEncoder{
		conn:        conn,
		indexName:   cfg.IndexName,
		typeName:    cfg.TypeName,
		compression: cfg.Compression,
		sendTimeout: cfg.SendTimeout,
	}
}

// SetIndexFunc installs a custom index-naming function. A static
// index_name from the configuration is ignored once a function is set.
func (e *ElasticEncoder) SetIndexFunc(fn IndexFunc) { e.indexFunc = fn }

// ProcessValues encodes one sample as a two-line bulk-action pair: the
// index control line and the document, both minified with sorted keys.
// The document id is a content hash (name-based UUID over the serialized
// document) so re-submitting unchanged content after a retry overwrites
// the same id instead of duplicating it.
func (e *ElasticEncoder) ProcessValues(s *metrics.Sample) []string {
	doc := make(map[string]any, len(s.Values)+len(s.Metadata)+1)
	for k, v := range s.Metadata {
		doc[k] = v
	}
	// Explicit field values override metadata defaults.
	for k, v := range s.Values {
		doc[k] = v
	}

	ts := s.EffectiveTimestamp()
	doc["timestamp"] = formatTimestamp(ts)
	doc["bucket"] = s.Bucket

	indexName := s.Bucket
	switch {
	case e.indexFunc != nil:
		indexName = e.indexFunc(s.Bucket, doc, ts)
	case e.indexName != "":
		indexName = e.indexName
	}
	if indexName == "" {
		// Intentional filtering, not an error.
		return nil
	}
	typeName := e.typeName
	if typeName == "" {
		typeName = s.Bucket
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	docID := uuid.NewSHA1(uuid.NameSpaceDNS, docJSON).String()

	action, err := json.Marshal(map[string]any{
		"index": map[string]any{
			"_index": indexName,
			"_type":  typeName,
			"_id":    docID,
		},
	})
	if err != nil {
		return nil
	}
	return []string{string(action) + "\n" + string(docJSON) + "\n"}
}

// formatTimestamp renders fractional epoch seconds the way the backend
// expects dates: UTC, millisecond precision, no timezone suffix.
func formatTimestamp(ts float64) string {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format("2006-01-02 15:04:05.000")
}

// PushChunk sends the accumulated NDJSON body as one bulk-upload request
// over the connector's socket. A non-200 status or any socket error drops
// the connection so the next flush reconnects and resends.
func (e *ElasticEncoder) PushChunk(chunk []string) error {
	var body bytes.Buffer
	for _, fragment := range chunk {
		body.WriteString(fragment)
	}

	payload, err := e.compress(body.Bytes())
	if err != nil {
		return fmt.Errorf("compress bulk body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+e.conn.Addr()+"/_bulk", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if e.compression == config.CompressionGzip || e.compression == config.CompressionDeflate {
		req.Header.Set("Content-Encoding", e.compression)
		req.Header.Set("Accept-Encoding", e.compression)
	}

	sock, err := e.conn.Socket()
	if err != nil {
		return err
	}
	if e.sendTimeout > 0 {
		if err := sock.SetDeadline(time.Now().Add(e.sendTimeout)); err != nil {
			e.conn.Drop()
			return fmt.Errorf("bulk upload %s: %w", e.conn.Addr(), err)
		}
	}
	if err := req.Write(sock); err != nil {
		e.conn.Drop()
		return fmt.Errorf("bulk upload %s: %w", e.conn.Addr(), err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(sock), req)
	if err != nil {
		e.conn.Drop()
		return fmt.Errorf("bulk response %s: %w", e.conn.Addr(), err)
	}
	// Pull the response body off the socket so the connection stays usable.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.conn.Drop()
		return fmt.Errorf("bulk upload %s: status %d", e.conn.Addr(), resp.StatusCode)
	}
	return nil
}

func (e *ElasticEncoder) compress(body []byte) ([]byte, error) {
	switch e.compression {
	case config.CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case config.CompressionDeflate:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}

// Close drops the connector's socket.
func (e *ElasticEncoder) Close() { e.conn.Drop() }
