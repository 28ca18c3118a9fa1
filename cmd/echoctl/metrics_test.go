package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics_witnessCounter(t *testing.T) {
	m := newSessionMetrics()
	m.RecordWitnessPublish(true)
	m.RecordWitnessPublish(false)
	m.RecordWitnessPublish(false)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "echo_witness_publishes_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			got[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"success": 1, "failure": 2}, got)
}

func TestRecord_pushesOnlySessionMetrics(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	dir := t.TempDir()
	chunks := writeChunks(t, dir, 2)
	args := append([]string{"record", "--key", keyOne, "--out", filepath.Join(dir, "s"), "--pushgateway", gw.URL}, chunks...)
	text, err := execute(t, args...)
	require.NoError(t, err, text)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/echoctl_record/signer/"), path)
	assert.Contains(t, string(body), "echo_record_chunks_total")
	assert.NotContains(t, string(body), "echo_requests_total")
	assert.NotContains(t, string(body), "go_goroutines")
}
