package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeCountsPriceEvents(t *testing.T) {
	stream := ": connected\n\n" +
		"id: 1\nevent: prices\ndata: {}\n\n" +
		": heartbeat\n\n" +
		"id: 2\nevent: prices\ndata: {}\n\n" +
		"event: other\ndata: x\n\n"

	var st stats
	err := consume(strings.NewReader(stream), &st)
	require.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 2, st.events.Load())
	assert.EqualValues(t, 2, st.heartbeats.Load())
}

func TestSubscribeSendsCursor(t *testing.T) {
	var gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCursor = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "id: 8\nevent: prices\ndata: {}\n\n")
	}))
	defer srv.Close()

	var st stats
	subscriber{client: srv.Client(), url: srv.URL, after: 7}.subscribe(context.Background(), &st)

	assert.Equal(t, "7", gotCursor)
	assert.EqualValues(t, 1, st.connected.Load())
	assert.EqualValues(t, 1, st.events.Load())
	assert.EqualValues(t, 1, st.streamErrs.Load())
}

func TestSubscribeRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	var st stats
	subscriber{client: srv.Client(), url: srv.URL}.subscribe(context.Background(), &st)
	assert.EqualValues(t, 1, st.connectErrs.Load())
	assert.Zero(t, st.connected.Load())
}
