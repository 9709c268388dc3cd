package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
		{700, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code))
	}
}

func TestRecordTrends(t *testing.T) {
	before := testutil.ToFloat64(classificationsTotal.WithLabelValues("cheapest", domain.ClassificationIncreased.String()))

	RecordTrends(domain.DiffResult{
		Trends: []domain.ProductTrend{
			{
				Cheapest:   domain.TrendResult{Classification: domain.ClassificationIncreased},
				Competitor: domain.TrendResult{Classification: domain.ClassificationNoData},
			},
		},
	})

	after := testutil.ToFloat64(classificationsTotal.WithLabelValues("cheapest", domain.ClassificationIncreased.String()))
	assert.Equal(t, before+1, after)
}

func TestRecordFetchAndHandler(t *testing.T) {
	RecordFetch(OutcomeSaved, 42, time.Second)
	assert.Equal(t, float64(42), testutil.ToFloat64(resolvedProducts))

	RecordFetch(OutcomeFailed, 0, time.Second)
	assert.Equal(t, float64(42), testutil.ToFloat64(resolvedProducts))

	RecordRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pricewatch_fetch_cycles_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "pricewatch_http_requests_total"))
}
