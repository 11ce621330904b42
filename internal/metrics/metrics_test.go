package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BlockAccepted(1, 1)
		m.BlockRejected("invalid_height")
		m.RolledBack(1, 0, 0)
		m.Replayed(time.Second, 1, 1, 1)
	})
}

func TestRecording(t *testing.T) {
	m := New()

	m.Replayed(1500*time.Millisecond, 12, 4, 3)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.replayDuration))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.replayedTransactions))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.chainHeight))

	m.BlockAccepted(5, 4)
	m.BlockAccepted(6, 5)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.blocksAccepted))
	assert.Equal(t, float64(6), testutil.ToFloat64(m.chainHeight))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.addresses))

	m.BlockRejected("invalid_height")
	m.BlockRejected("invalid_height")
	m.BlockRejected("value_mismatch")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.blocksRejected.WithLabelValues("invalid_height")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocksRejected.WithLabelValues("value_mismatch")))

	m.RolledBack(3, 3, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rollbacks))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.blocksRolledBack))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.chainHeight))
}

func TestHandler(t *testing.T) {
	m := New()
	m.BlockAccepted(1, 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "blockledger_blocks_accepted_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
