package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/deploydeck/internal/metrics"
	"github.com/vovakirdan/deploydeck/internal/store/sqlite"
)

type countingMaintainer struct {
	calls atomic.Int32
	err   error
}

func (m *countingMaintainer) Maintain(context.Context) error {
	m.calls.Add(1)
	return m.err
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&countingMaintainer{}, "every tuesday", nil)
	assert.Error(t, err)
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	okBefore := counterValue(t, metrics.MaintenanceRuns.WithLabelValues("ok"))
	errBefore := counterValue(t, metrics.MaintenanceRuns.WithLabelValues("error"))

	m := &countingMaintainer{}
	s, err := New(m, "0 4 * * *", nil)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, okBefore+1, counterValue(t, metrics.MaintenanceRuns.WithLabelValues("ok")))

	m.err = errors.New("database is locked")
	assert.ErrorContains(t, s.RunOnce(context.Background()), "locked")
	assert.Equal(t, errBefore+1, counterValue(t, metrics.MaintenanceRuns.WithLabelValues("error")))
	assert.Equal(t, int32(2), m.calls.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New(&countingMaintainer{}, "0 4 * * *", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunOnceAgainstSQLite(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	s, err := New(st, "*/5 * * * *", nil)
	require.NoError(t, err)
	assert.NoError(t, s.RunOnce(context.Background()))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
