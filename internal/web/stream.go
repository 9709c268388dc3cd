package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/pkg/apierror"
)

type streamError struct {
	Seq    uint64 `json:"seq"`
	Detail string `json:"detail"`
}

// handleStream pushes a "prices" event for every observation appended after
// the client connected, or after the sequence number given in ?after=.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierror.Write(w, apierror.Internal("streaming unsupported"))
		return
	}

	lastSeq, err := s.streamStart(r)
	if err != nil {
		s.l.Error("price stream initial load", zap.Error(err))
		apierror.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	interval := s.StreamPollInterval
	if interval <= 0 {
		interval = defaultStreamPollInterval
	}
	pollTicker := time.NewTicker(interval)
	defer pollTicker.Stop()

	// views returned alongside an error are still sent and the cursor advances
	sendViews := func() error {
		prev := lastSeq
		views, next, sinceErr := s.svc.Since(r.Context(), lastSeq)
		for _, view := range views {
			payload, err := json.Marshal(view)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", view.Seq)
			fmt.Fprintf(w, "event: prices\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		if next > lastSeq {
			lastSeq = next
		}
		if sinceErr != nil && lastSeq > prev {
			payload, _ := json.Marshal(streamError{Seq: lastSeq, Detail: "some observations could not be loaded"})
			fmt.Fprintf(w, "id: %d\n", lastSeq)
			fmt.Fprintf(w, "event: error\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		flusher.Flush()
		return sinceErr
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendViews(); err != nil {
				s.l.Warn("price stream poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) streamStart(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, apierror.BadRequest(fmt.Sprintf("invalid sequence %q", raw))
		}
		return seq, nil
	}

	seq, err := s.svc.LatestSeq(r.Context())
	if err != nil {
		return 0, apierror.Internal("failed to load observations")
	}
	return seq, nil
}
