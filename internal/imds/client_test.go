package imds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Identity
		wantErr bool
	}{
		{
			name:   "full compute document",
			status: http.StatusOK,
			body:   `{"compute":{"name":"Spot-VM-01","resourceGroupName":"Prod-RG","location":"westeurope"}}`,
			want:   Identity{ResourceGroup: "Prod-RG", VMName: "Spot-VM-01"},
		},
		{
			name:    "missing vm name",
			status:  http.StatusOK,
			body:    `{"compute":{"resourceGroupName":"rg"}}`,
			wantErr: true,
		},
		{
			name:    "missing resource group",
			status:  http.StatusOK,
			body:    `{"compute":{"name":"vm"}}`,
			wantErr: true,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantErr: true,
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `{"compute":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "true", r.Header.Get("Metadata"))
				assert.Contains(t, r.URL.String(), "api-version=2021-02-01")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL).Identity(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL).Identity(context.Background())
	require.Error(t, err)
}

func TestScheduledEvents(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    []ScheduledEvent
		wantErr bool
	}{
		{
			name:   "preempt event",
			status: http.StatusOK,
			body:   `{"DocumentIncarnation":2,"Events":[{"EventId":"A1","EventType":"Preempt","ResourceType":"VirtualMachine","NotBefore":"Mon, 19 Sep 2022 18:29:47 GMT"}]}`,
			want: []ScheduledEvent{
				{EventID: "A1", EventType: "Preempt", NotBefore: "Mon, 19 Sep 2022 18:29:47 GMT"},
			},
		},
		{
			name:   "no events key",
			status: http.StatusOK,
			body:   `{"DocumentIncarnation":1}`,
			want:   nil,
		},
		{
			name:   "empty events",
			status: http.StatusOK,
			body:   `{"Events":[]}`,
			want:   []ScheduledEvent{},
		},
		{
			name:    "service error",
			status:  http.StatusServiceUnavailable,
			body:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "true", r.Header.Get("Metadata"))
				assert.Contains(t, r.URL.String(), "api-version=2019-08-01")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL).ScheduledEvents(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisruptive(t *testing.T) {
	for _, typ := range []string{"Preempt", "Terminate", "Reboot", "Redeploy"} {
		assert.True(t, ScheduledEvent{EventType: typ}.Disruptive(), typ)
	}
	assert.False(t, ScheduledEvent{EventType: "Freeze"}.Disruptive())
	assert.False(t, ScheduledEvent{}.Disruptive())
}
