package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWalletOperationsCounter(t *testing.T) {
	before := testutil.ToFloat64(WalletOperationsTotal.WithLabelValues("debit", "ok"))
	WalletOperationsTotal.WithLabelValues("debit", "ok").Inc()
	after := testutil.ToFloat64(WalletOperationsTotal.WithLabelValues("debit", "ok"))
	require.Equal(t, before+1, after)
}

func TestHandlerExposesRegistry(t *testing.T) {
	ReconcileEventsTotal.WithLabelValues("applied").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "novoin_reconcile_events_total"))
}
