package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

func TestObserveLedgerCountsStates(t *testing.T) {
	m := New()
	now := time.Unix(2000, 0)
	to := int64(2)

	m.ObserveLedger([]domain.Subscription{
		{ID: 0, IsActive: true, StartTime: 1000, Duration: 30},
		{ID: 1, IsActive: true, StartTime: 1990, Duration: 30},
		{ID: 2, IsClaimed: true, RenewalPending: true},
		{ID: 3, IsClaimed: true, RenewalError: "reverted"},
		{ID: 4, IsClaimed: true, IsCancelled: true},
		{ID: 5, IsClaimed: true, RenewedTo: &to},
	}, now)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("claimable")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("renewal_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRecords.WithLabelValues("abandoned")))
}

func TestObserveSettlementAndSweep(t *testing.T) {
	m := New()
	m.ObserveSettlement("claim", OutcomeConfirmed)
	m.ObserveSettlement("claim", OutcomeConfirmed)
	m.ObserveSettlement("subscribe", OutcomeTimeout)
	m.ObserveSweep(250 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SettlementRequests.WithLabelValues("claim", OutcomeConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementRequests.WithLabelValues("subscribe", OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweeps))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSweep(time.Second)
	m.ObserveSettlement("claim", OutcomeError)
	m.ObserveLedgerWriteFailure()
	m.ObserveLedger(nil, time.Now())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveLedgerWriteFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "subscription_ledger_write_failures_total 1"))
}
