package client

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/metrics"
	"github.com/bostik/bucky3/internal/transport"
)

func elasticConfig() config.ElasticConfig {
	return config.ElasticConfig{
		ClientConfig: config.ClientConfig{
			RemoteHost:     "127.0.0.1:9200",
			FlushInterval:  time.Second,
			ConnectTimeout: time.Second,
			SendTimeout:    2 * time.Second,
		},
		Compression: config.CompressionIdentity,
	}
}

func scenarioSample() *metrics.Sample {
	return &metrics.Sample{
		Bucket:    "cpu",
		Values:    map[string]float64{"idle": 97.5},
		Timestamp: 1700000000,
		Metadata:  map[string]string{"host": "a1"},
	}
}

// The reference scenario: index "cpu", millisecond timestamp, two NDJSON
// lines, stable document id.
func TestElasticProcessValuesScenario(t *testing.T) {
	enc := NewElasticEncoder(elasticConfig(), nil)
	fragments := enc.ProcessValues(scenarioSample())
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	lines := strings.Split(strings.TrimSuffix(fragments[0], "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines, got %d: %q", len(lines), fragments[0])
	}

	var action struct {
		Index struct {
			Index string `json:"_index"`
			Type  string `json:"_type"`
			ID    string `json:"_id"`
		} `json:"index"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &action); err != nil {
		t.Fatalf("control line not JSON: %v", err)
	}
	if action.Index.Index != "cpu" {
		t.Errorf("index = %q, want %q", action.Index.Index, "cpu")
	}
	if action.Index.Type != "cpu" {
		t.Errorf("type = %q, want %q", action.Index.Type, "cpu")
	}
	if action.Index.ID == "" {
		t.Error("document id is empty")
	}

	want := `{"bucket":"cpu","host":"a1","idle":97.5,"timestamp":"2023-11-14 22:13:20.000"}`
	if lines[1] != want {
		t.Errorf("document = %s, want %s", lines[1], want)
	}
}

func TestElasticDocumentIDIdempotent(t *testing.T) {
	enc := NewElasticEncoder(elasticConfig(), nil)

	first := enc.ProcessValues(scenarioSample())
	second := enc.ProcessValues(scenarioSample())
	if first[0] != second[0] {
		t.Errorf("identical samples encoded differently:\n%q\n%q", first[0], second[0])
	}

	// Field insertion order must not matter.
	reordered := &metrics.Sample{
		Bucket:    "cpu",
		Timestamp: 1700000000,
		Metadata:  map[string]string{"host": "a1"},
		Values:    map[string]float64{"idle": 97.5},
	}
	reordered.Values["user"] = 1.5
	withUser := scenarioSample()
	withUser.Values["user"] = 1.5
	if enc.ProcessValues(withUser)[0] != enc.ProcessValues(reordered)[0] {
		t.Error("field order changed the encoding")
	}
}

func TestElasticValuesOverrideMetadata(t *testing.T) {
	enc := NewElasticEncoder(elasticConfig(), nil)
	s := scenarioSample()
	s.Metadata["idle"] = "from-metadata"
	fragments := enc.ProcessValues(s)
	lines := strings.Split(fragments[0], "\n")

	var doc map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["idle"] != 97.5 {
		t.Errorf("explicit value lost to metadata: %v", doc["idle"])
	}
}

func TestElasticIndexFunc(t *testing.T) {
	enc := NewElasticEncoder(elasticConfig(), nil)
	enc.SetIndexFunc(func(bucket string, doc map[string]any, ts float64) string {
		if bucket == "cpu" {
			return "metrics-cpu"
		}
		return ""
	})

	fragments := enc.ProcessValues(scenarioSample())
	if len(fragments) != 1 || !strings.Contains(fragments[0], `"_index":"metrics-cpu"`) {
		t.Errorf("index function not applied: %q", fragments)
	}

	dropped := scenarioSample()
	dropped.Bucket = "noise"
	if got := enc.ProcessValues(dropped); len(got) != 0 {
		t.Errorf("empty index resolution should drop the sample, got %q", got)
	}
}

func TestElasticStaticIndexName(t *testing.T) {
	cfg := elasticConfig()
	cfg.IndexName = "bucky"
	cfg.TypeName = "doc"
	enc := NewElasticEncoder(cfg, nil)

	fragments := enc.ProcessValues(scenarioSample())
	if !strings.Contains(fragments[0], `"_index":"bucky"`) {
		t.Errorf("static index name not used: %q", fragments[0])
	}
	if !strings.Contains(fragments[0], `"_type":"doc"`) {
		t.Errorf("static type name not used: %q", fragments[0])
	}
}

func bulkBackend(t *testing.T, status int, gotBody *[]byte, gotHeader *http.Header) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_bulk" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		*gotBody = body
		*gotHeader = r.Header.Clone()
		w.WriteHeader(status)
	}))
}

func TestElasticPushChunk(t *testing.T) {
	var body []byte
	var header http.Header
	srv := bulkBackend(t, http.StatusOK, &body, &header)
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	conn := transport.NewConnector(addr, time.Second, 2*time.Second)
	enc := NewElasticEncoder(elasticConfig(), conn)
	defer enc.Close()

	chunk := enc.ProcessValues(scenarioSample())
	if err := enc.PushChunk(chunk); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}
	if string(body) != chunk[0] {
		t.Errorf("backend body = %q, want %q", body, chunk[0])
	}
	if ct := header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	if ce := header.Get("Content-Encoding"); ce != "" {
		t.Errorf("unexpected Content-Encoding %q", ce)
	}
}

func TestElasticPushChunkGzip(t *testing.T) {
	var body []byte
	var header http.Header
	srv := bulkBackend(t, http.StatusOK, &body, &header)
	defer srv.Close()

	cfg := elasticConfig()
	cfg.Compression = config.CompressionGzip
	addr := strings.TrimPrefix(srv.URL, "http://")
	conn := transport.NewConnector(addr, time.Second, 2*time.Second)
	enc := NewElasticEncoder(cfg, conn)
	defer enc.Close()

	chunk := enc.ProcessValues(scenarioSample())
	if err := enc.PushChunk(chunk); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}
	if ce := header.Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q", ce)
	}
	zr, err := gzip.NewReader(strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("body not gzip: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if string(plain) != chunk[0] {
		t.Errorf("decompressed body = %q, want %q", plain, chunk[0])
	}
}

func TestElasticPushChunkBadStatus(t *testing.T) {
	var body []byte
	var header http.Header
	srv := bulkBackend(t, http.StatusInternalServerError, &body, &header)
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	conn := transport.NewConnector(addr, time.Second, 2*time.Second)
	enc := NewElasticEncoder(elasticConfig(), conn)
	defer enc.Close()

	if err := enc.PushChunk(enc.ProcessValues(scenarioSample())); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
