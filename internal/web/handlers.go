package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/internal/clients"
	"github.com/vadiminshakov/pricewatch/internal/domain"
	"github.com/vadiminshakov/pricewatch/internal/services/pricing"
	"github.com/vadiminshakov/pricewatch/pkg/apierror"
)

type currentResponse struct {
	Data               []domain.PriceRecord `json:"data"`
	Timestamp          string               `json:"timestamp"`
	ReferenceTimestamp string               `json:"reference_timestamp,omitempty"`
	SaveSuccess        bool                 `json:"save_success"`
}

type historicalResponse struct {
	Data               []domain.PriceRecord `json:"data"`
	Timestamp          string               `json:"timestamp"`
	ReferenceTimestamp string               `json:"reference_timestamp,omitempty"`
}

type timestampsResponse struct {
	Timestamps []string `json:"timestamps"`
}

type detailedResponse struct {
	Data []domain.DetailedPricePoint `json:"data"`
}

type vendorEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Self bool   `json:"self"`
}

type vendorsResponse struct {
	Vendors []vendorEntry `json:"vendors"`
	SelfID  string        `json:"self_id"`
}

// handleVendors lists the allow-listed vendors for the page legend.
func (s *Server) handleVendors(w http.ResponseWriter, _ *http.Request) {
	set := s.svc.Vendors()

	resp := vendorsResponse{SelfID: set.SelfID()}
	for _, v := range set.Vendors() {
		resp.Vendors = append(resp.Vendors, vendorEntry{ID: v.ID, Name: v.Name, Self: set.IsSelf(v.ID)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilter(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	view, err := s.svc.Current(r.Context(), filter)
	if err != nil {
		s.l.Error("current prices failed", zap.Error(err))
		var fetchErr *pricing.FetchError
		switch {
		case errors.Is(err, clients.ErrMissingAPIKey):
			apierror.Write(w, apierror.Internal(err.Error()))
		case errors.As(err, &fetchErr):
			apierror.Write(w, apierror.BadGateway(fmt.Sprintf("Error: %v", err)))
		default:
			apierror.Write(w, apierror.Internal(fmt.Sprintf("Error: %v", err)))
		}
		return
	}

	writeJSON(w, http.StatusOK, currentResponse{
		Data:               view.Records,
		Timestamp:          view.Timestamp,
		ReferenceTimestamp: view.ReferenceTimestamp,
		SaveSuccess:        view.SaveSuccess,
	})
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	timestamps, err := s.svc.Timestamps(r.Context())
	if err != nil {
		s.l.Error("list timestamps failed", zap.Error(err))
		apierror.Write(w, apierror.Internal(fmt.Sprintf("Error retrieving timestamps: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, timestampsResponse{Timestamps: timestamps})
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "timestamp"))
	if err != nil {
		apierror.Write(w, apierror.BadRequest("invalid timestamp"))
		return
	}
	ts, err := parseTime(raw)
	if err != nil {
		apierror.Write(w, apierror.BadRequest(err.Error()))
		return
	}
	filter, err := recordFilter(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	view, err := s.svc.Historical(r.Context(), ts, filter)
	if err != nil {
		if errors.Is(err, pricing.ErrNotFound) {
			apierror.Write(w, apierror.NotFound("Data not found for the specified timestamp"))
			return
		}
		s.l.Error("historical prices failed", zap.String("timestamp", raw), zap.Error(err))
		apierror.Write(w, apierror.Internal(fmt.Sprintf("Error retrieving historical data: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, historicalResponse{
		Data:               view.Records,
		Timestamp:          view.Timestamp,
		ReferenceTimestamp: view.ReferenceTimestamp,
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PricePointFilter{
		ProductID: q.Get("product_id"),
		VendorID:  q.Get("vendor_id"),
	}
	for name, dst := range map[string]**time.Time{"start": &filter.Start, "end": &filter.End} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			apierror.Write(w, apierror.BadRequest(fmt.Sprintf("invalid %s: %v", name, err)))
			return
		}
		*dst = &ts
	}

	points, err := s.svc.Detailed(r.Context(), filter)
	if err != nil {
		s.l.Error("detailed prices failed", zap.Error(err))
		apierror.Write(w, apierror.Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, detailedResponse{Data: points})
}

func recordFilter(r *http.Request) (pricing.RecordFilter, error) {
	var filter pricing.RecordFilter
	q := r.URL.Query()

	for name, dst := range map[string]*bool{
		"changes_only":   &filter.ChangesOnly,
		"hide_self_best": &filter.HideSelfBest,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return pricing.RecordFilter{}, apierror.BadRequest(fmt.Sprintf("invalid %s: %q", name, raw))
		}
		*dst = v
	}
	return filter, nil
}

// parseTime accepts the observation layout or RFC 3339.
func parseTime(raw string) (time.Time, error) {
	if ts, err := domain.ParseTimestamp(raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q, expected format %s", raw, domain.TimestampLayout)
	}
	return domain.NormalizeTimestamp(ts), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
