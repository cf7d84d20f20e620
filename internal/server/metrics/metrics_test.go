package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Operation("upload", "ok")
	m.Operation("upload", "ok")
	m.Operation("fetch", "invalid_password")
	m.Uploaded(10)
	m.Purged()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("upload", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fetch", "invalid_password")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytesUploaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purged))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Operation("upload", "ok")
		m.Uploaded(1)
		m.Purged()
	})
}
