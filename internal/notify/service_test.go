package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPostsToWebhook(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, time.Second, 1)
	n.JobStarted(context.Background(), "job-1")

	assert.Contains(t, received, "job-1")
}

func TestNotifySilentWithoutWebhook(t *testing.T) {
	n := New("", time.Second, 1)
	require.NotPanics(t, func() { n.Notify(context.Background(), "anything") })
}

func TestNotifyDoesNotErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, time.Second, 1)
	require.NotPanics(t, func() { n.Notify(context.Background(), "oops") })
}
