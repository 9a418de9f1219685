package elasticsearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCluster struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	status   int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	status := f.status
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/" || status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeCluster) fail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func newTestClient(t *testing.T) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Addresses = []string{srv.URL}
	cfg.RetryConfig.MaxAttempts = 0
	cfg.CircuitBreaker.FailureThreshold = 2

	client, err := NewClient(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, cluster
}

func TestClientIndexesDocumentsUnderTheirID(t *testing.T) {
	client, cluster := newTestClient(t)

	err := client.IndexDocument(context.Background(), "migration-guard-events-2026.10.17", "evt-1",
		map[string]string{"version": "42"})
	require.NoError(t, err)

	assert.Contains(t, cluster.requests, "PUT /migration-guard-events-2026.10.17/_doc/evt-1")
	assert.Contains(t, cluster.bodies, `{"version":"42"}`)
}

func TestClientPutsIndexTemplates(t *testing.T) {
	client, cluster := newTestClient(t)

	tmpl := KeywordTemplate("migration-guard-audit-*", "timestamp", "version", "actor")
	require.NoError(t, client.PutIndexTemplate(context.Background(), "migration-guard-audit", tmpl))
	assert.Contains(t, cluster.requests, "PUT /_index_template/migration-guard-audit")
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client, cluster := newTestClient(t)
	cluster.fail(http.StatusBadRequest)

	for i := 0; i < 2; i++ {
		err := client.IndexDocument(context.Background(), "idx", "id", map[string]int{"n": i})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	}

	err := client.IndexDocument(context.Background(), "idx", "id", map[string]int{"n": 3})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClientRejectsRequestsAfterClose(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Ping(context.Background()), ErrClientClosed)
}

func TestRetryBackoffIsCapped(t *testing.T) {
	r := RetryConfig{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, r.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, r.Backoff(2))
	assert.Equal(t, time.Second, r.Backoff(10))
}
