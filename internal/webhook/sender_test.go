package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSendClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Result
	}{
		{name: "ok json body", status: http.StatusOK, body: `{"accepted":true}`, want: Success},
		{name: "ok non-json body", status: http.StatusOK, body: "accepted", want: Success},
		{name: "created", status: http.StatusCreated, body: "", want: Success},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "", want: AuthFailure},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"missing vmName"}`, want: BadRequest},
		{name: "server error", status: http.StatusInternalServerError, body: "", want: NetworkFailure},
		{name: "too many requests", status: http.StatusTooManyRequests, body: "", want: NetworkFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewSender(srv.URL, "key", nil, discardLogger())
			got := s.Send(context.Background(), Identity{ResourceGroup: "rg", VMName: "vm"})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendRequestShape(t *testing.T) {
	var (
		gotAuth        string
		gotContentType string
		gotRequestID   string
		gotPayload     map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotRequestID = r.Header.Get("X-Request-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "sekret", nil, discardLogger())
	res := s.Send(context.Background(), Identity{ResourceGroup: "Prod-RG", VMName: "Spot-VM-01"})

	require.Equal(t, Success, res)
	assert.Equal(t, "Bearer sekret", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.NotEmpty(t, gotRequestID)
	// Casing must survive exactly as resolved from metadata.
	assert.Equal(t, map[string]string{"resourceGroup": "Prod-RG", "vmName": "Spot-VM-01"}, gotPayload)
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewSender(srv.URL, "key", nil, discardLogger())
	assert.Equal(t, NetworkFailure, s.Send(context.Background(), Identity{}))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "auth_failure", AuthFailure.String())
	assert.Equal(t, "bad_request", BadRequest.String())
	assert.Equal(t, "network_failure", NetworkFailure.String())
}
