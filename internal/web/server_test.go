package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/internal/clients"
	"github.com/vadiminshakov/pricewatch/internal/domain"
	"github.com/vadiminshakov/pricewatch/internal/services/pricing"
)

type fakeService struct {
	mu sync.Mutex

	current    pricing.View
	currentErr error
	lastFilter pricing.RecordFilter

	historical map[string]pricing.View
	timestamps []string
	points     []domain.DetailedPricePoint
	lastQuery  domain.PricePointFilter

	pending    []pricing.View
	latestSeq  uint64
	brokenSeq  uint64
	sinceCalls []uint64
}

func (f *fakeService) Current(_ context.Context, filter pricing.RecordFilter) (pricing.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.current, f.currentErr
}

func (f *fakeService) Historical(_ context.Context, ts time.Time, filter pricing.RecordFilter) (pricing.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	view, ok := f.historical[domain.FormatTimestamp(ts)]
	if !ok {
		return pricing.View{}, pricing.ErrNotFound
	}
	return view, nil
}

func (f *fakeService) Timestamps(context.Context) ([]string, error) {
	return f.timestamps, nil
}

func (f *fakeService) Detailed(_ context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = filter
	return f.points, nil
}

func (f *fakeService) Since(_ context.Context, seq uint64) ([]pricing.View, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinceCalls = append(f.sinceCalls, seq)

	var err error
	out := make([]pricing.View, 0)
	for _, v := range f.pending {
		if v.Seq <= seq {
			continue
		}
		seq = v.Seq
		if v.Seq == f.brokenSeq {
			err = errors.Wrap(domain.ErrCorruptObservation, "reference missing")
			continue
		}
		out = append(out, v)
	}
	return out, seq, err
}

func (f *fakeService) calledSince(seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sinceCalls {
		if s == seq {
			return true
		}
	}
	return false
}

func (f *fakeService) LatestSeq(context.Context) (uint64, error) {
	return f.latestSeq, nil
}

func (f *fakeService) Vendors() domain.VendorSet {
	set, err := domain.NewVendorSet([]domain.Vendor{
		{ID: "V2", Name: "Vendor Two"},
		{ID: "V1", Name: "Vendor One"},
		{ID: "SELF", Name: "Self"},
	}, "SELF")
	if err != nil {
		panic(err)
	}
	return set
}

func sampleRecord() domain.PriceRecord {
	return domain.NewPriceRecord(domain.ProductTrend{
		Product: domain.ResolvedProduct{
			ProductID:          "P1",
			Name:               "Alpha",
			CheapestPrice:      decimal.NewNullDecimal(decimal.RequireFromString("4.5")),
			CheapestVendorName: "Vendor One",
		},
		Cheapest:   domain.TrendResult{Classification: domain.ClassificationFirstDataPoint},
		Competitor: domain.TrendResult{Classification: domain.ClassificationFirstDataPoint},
	})
}

func newTestServer(svc *fakeService) *httptest.Server {
	s := NewServer(zap.NewNop(), ":0", svc, nil)
	s.StreamPollInterval = 10 * time.Millisecond
	return httptest.NewServer(s.Handler())
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestServer_Current(t *testing.T) {
	svc := &fakeService{current: pricing.View{
		Timestamp:   "2025-03-01 12:00:00",
		SaveSuccess: true,
		Records:     []domain.PriceRecord{sampleRecord()},
	}}
	srv := newTestServer(svc)
	defer srv.Close()

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/prices/current?changes_only=true&hide_self_best=1", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "2025-03-01 12:00:00", body["timestamp"])
	assert.Equal(t, true, body["save_success"])

	data := body["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, "P1", row["id"])
	assert.Equal(t, "First data point", row["trend_label"])
	assert.Equal(t, "4.49", row["recommended_price"])

	assert.Equal(t, pricing.RecordFilter{ChangesOnly: true, HideSelfBest: true}, svc.lastFilter)
}

func TestServer_CurrentErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		query      string
		wantStatus int
	}{
		{name: "upstream failure", err: &pricing.FetchError{Err: errors.New("boom")}, wantStatus: http.StatusBadGateway},
		{name: "missing api key", err: &pricing.FetchError{Err: clients.ErrMissingAPIKey}, wantStatus: http.StatusInternalServerError},
		{name: "corrupt reference", err: errors.Wrap(domain.ErrCorruptObservation, "compute trends"), wantStatus: http.StatusInternalServerError},
		{name: "store failure", err: errors.New("database is locked"), wantStatus: http.StatusInternalServerError},
		{name: "bad filter", query: "?changes_only=maybe", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeService{currentErr: tt.err})
			defer srv.Close()

			var body map[string]string
			resp := getJSON(t, srv.URL+"/api/prices/current"+tt.query, &body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestServer_Historical(t *testing.T) {
	svc := &fakeService{historical: map[string]pricing.View{
		"2025-03-01 12:00:00": {
			Timestamp:          "2025-03-01 12:00:00",
			ReferenceTimestamp: "2025-03-01 11:00:00",
			Records:            []domain.PriceRecord{sampleRecord()},
		},
	}}
	srv := newTestServer(svc)
	defer srv.Close()

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/prices/historical/2025-03-01%2012:00:00", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-03-01 12:00:00", body["timestamp"])
	assert.Equal(t, "2025-03-01 11:00:00", body["reference_timestamp"])
	_, hasSave := body["save_success"]
	assert.False(t, hasSave)

	var missing map[string]string
	resp = getJSON(t, srv.URL+"/api/prices/historical/2025-03-01%2013:00:00", &missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Data not found for the specified timestamp", missing["detail"])

	var bad map[string]string
	resp = getJSON(t, srv.URL+"/api/prices/historical/yesterday", &bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_TimestampsAndDetailed(t *testing.T) {
	svc := &fakeService{
		timestamps: []string{"2025-03-01 12:00:00", "2025-03-01 11:00:00"},
		points: []domain.DetailedPricePoint{{
			Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			ProductID: "P1",
			VendorID:  "V1",
			Price:     decimal.RequireFromString("4.5"),
		}},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	var ts timestampsResponse
	getJSON(t, srv.URL+"/api/prices/timestamps", &ts)
	assert.Equal(t, svc.timestamps, ts.Timestamps)

	var detailed map[string][]map[string]any
	resp := getJSON(t, srv.URL+"/api/prices/detailed?product_id=P1&vendor_id=V1&start=2025-03-01T00:00:00Z&end=2025-03-01%2023:59:59", &detailed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, detailed["data"], 1)
	assert.Equal(t, "P1", svc.lastQuery.ProductID)
	assert.Equal(t, "V1", svc.lastQuery.VendorID)
	require.NotNil(t, svc.lastQuery.Start)
	require.NotNil(t, svc.lastQuery.End)
	assert.Equal(t, 23, svc.lastQuery.End.Hour())

	var bad map[string]string
	resp = getJSON(t, srv.URL+"/api/prices/detailed?start=nope", &bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(&fakeService{})
	defer srv.Close()

	var health map[string]string
	resp := getJSON(t, srv.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServer_Vendors(t *testing.T) {
	srv := newTestServer(&fakeService{})
	defer srv.Close()

	var body vendorsResponse
	resp := getJSON(t, srv.URL+"/api/vendors", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SELF", body.SelfID)
	assert.Equal(t, []vendorEntry{
		{ID: "SELF", Name: "Self", Self: true},
		{ID: "V1", Name: "Vendor One"},
		{ID: "V2", Name: "Vendor Two"},
	}, body.Vendors)
}

func TestServer_Stream(t *testing.T) {
	svc := &fakeService{
		latestSeq: 1,
		pending: []pricing.View{
			{Seq: 1, Timestamp: "2025-03-01 11:00:00"},
			{Seq: 2, Timestamp: "2025-03-01 12:00:00", Records: []domain.PriceRecord{sampleRecord()}},
		},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/prices/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}

	assert.Equal(t, "prices", event)
	var view pricing.View
	require.NoError(t, json.Unmarshal([]byte(data), &view))
	assert.Equal(t, uint64(2), view.Seq)
	assert.Equal(t, "2025-03-01 12:00:00", view.Timestamp)
}

func TestServer_StreamSkipsBrokenObservation(t *testing.T) {
	svc := &fakeService{
		latestSeq: 1,
		brokenSeq: 2,
		pending: []pricing.View{
			{Seq: 2, Timestamp: "2025-03-01 12:00:00"},
			{Seq: 3, Timestamp: "2025-03-01 13:00:00", Records: []domain.PriceRecord{sampleRecord()}},
		},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/prices/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := map[string]string{}
	event := ""
	scanner := bufio.NewScanner(resp.Body)
	for len(events) < 2 && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events[event] = strings.TrimPrefix(line, "data: ")
		}
	}
	require.Contains(t, events, "prices")
	require.Contains(t, events, "error")

	var view pricing.View
	require.NoError(t, json.Unmarshal([]byte(events["prices"]), &view))
	assert.Equal(t, uint64(3), view.Seq)

	var streamErr streamError
	require.NoError(t, json.Unmarshal([]byte(events["error"]), &streamErr))
	assert.Equal(t, uint64(3), streamErr.Seq)

	assert.Eventually(t, func() bool { return svc.calledSince(3) }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_StreamRejectsBadCursor(t *testing.T) {
	srv := newTestServer(&fakeService{})
	defer srv.Close()

	var body map[string]string
	resp := getJSON(t, srv.URL+"/api/prices/stream?after=abc", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
