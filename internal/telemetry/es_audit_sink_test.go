package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

type bulkServer struct {
	mu     sync.Mutex
	lines  []map[string]any
	reject bool
}

func (b *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/_bulk" {
		_, _ = w.Write([]byte(`{"version":{"number":"8.19.0"}}`))
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := bufio.NewScanner(r.Body)
	n := 0
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err == nil {
			b.lines = append(b.lines, m)
			n++
		}
	}
	if b.reject {
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`))
		return
	}
	_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
}

func (b *bulkServer) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func newTestESSink(t *testing.T, srv *httptest.Server, m *Metrics) *ESAuditSink {
	t.Helper()
	sink, err := NewESAuditSink(config.ElasticsearchConfig{
		Addresses:  []string{srv.URL},
		FlushSize:  2,
		FlushEvery: time.Hour,
		Timeout:    2 * time.Second,
	}, "test", m)
	require.NoError(t, err)
	return sink
}

func TestESAuditSink_FlushesOnBatchSizeAndClose(t *testing.T) {
	logger.UseNop()
	bs := &bulkServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	sink := newTestESSink(t, srv, nil)
	ctx := context.Background()
	require.NoError(t, sink.Append(ctx, sampleEvent()))
	require.NoError(t, sink.Append(ctx, sampleEvent()))

	require.Eventually(t, func() bool { return bs.count() == 4 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sink.Append(ctx, sampleEvent()))
	require.NoError(t, sink.Close())
	assert.Equal(t, 6, bs.count())

	bs.mu.Lock()
	meta := bs.lines[0]["index"].(map[string]any)
	doc := bs.lines[1]
	bs.mu.Unlock()
	assert.Equal(t, "voiceid-audit-2026.05.04", meta["_index"])
	assert.Equal(t, "VERIFICATION_SUCCESS", doc["action"])
	assert.Equal(t, "test", doc["env"])

	assert.ErrorIs(t, sink.Append(ctx, sampleEvent()), ErrSinkClosed)
	assert.NoError(t, sink.Close())
}

func TestESAuditSink_CountsRejectedItems(t *testing.T) {
	logger.UseNop()
	bs := &bulkServer{reject: true}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	m := NewMetrics(prometheus.NewRegistry())
	sink := newTestESSink(t, srv, m)
	require.NoError(t, sink.Append(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDrops.WithLabelValues("elasticsearch")))
}

func TestNewESAuditSink_RequiresAddresses(t *testing.T) {
	_, err := NewESAuditSink(config.ElasticsearchConfig{}, "test", nil)
	assert.Error(t, err)
}
