package observability

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordParticipantsSetsGauge(t *testing.T) {
	RecordParticipants("Chess Club", 3)
	RecordParticipants("Chess Club", 2)

	var m dto.Metric
	require.NoError(t, participantsGauge.WithLabelValues("Chess Club").Write(&m))
	require.Equal(t, 2.0, m.GetGauge().GetValue())
}

func TestRecordOperationIncrementsCounter(t *testing.T) {
	counter := operationCounter.WithLabelValues("signup", "conflict")

	var before dto.Metric
	require.NoError(t, counter.Write(&before))

	RecordOperation("signup", "conflict")

	var after dto.Metric
	require.NoError(t, counter.Write(&after))
	require.Equal(t, before.GetCounter().GetValue()+1, after.GetCounter().GetValue())
}

func TestRecordMutationIgnoresZeroTime(t *testing.T) {
	ts := time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)
	RecordMutation(ts)
	RecordMutation(time.Time{})

	var m dto.Metric
	require.NoError(t, lastMutationGauge.Write(&m))
	require.Equal(t, float64(ts.Unix()), m.GetGauge().GetValue())
}

func TestObserveRequestLabelsUnmatchedRoutes(t *testing.T) {
	ObserveRequest("", 404, 5*time.Millisecond)

	var m dto.Metric
	observer := requestDuration.WithLabelValues("unmatched", "404")
	require.NoError(t, observer.(interface{ Write(*dto.Metric) error }).Write(&m))
	require.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}
