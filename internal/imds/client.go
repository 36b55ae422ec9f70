// Package imds talks to the Azure Instance Metadata Service from inside
// the VM. Both endpoints are link-local and answer in milliseconds when
// healthy, so calls carry a short timeout and no retries; retry policy
// belongs to the caller, which treats identity resolution and steady-state
// polling differently.
package imds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultEndpoint is the well-known link-local IMDS address.
	DefaultEndpoint = "http://169.254.169.254"

	instancePath        = "/metadata/instance?api-version=2021-02-01"
	scheduledEventsPath = "/metadata/scheduledevents?api-version=2019-08-01"

	// Azure rejects metadata requests that do not mark themselves as
	// metadata-aware.
	metadataHeader = "Metadata"

	requestTimeout = 3 * time.Second

	maxResponseBytes = 1 << 20
)

// Event types announced through the scheduled events endpoint.
const (
	EventTypePreempt   = "Preempt"
	EventTypeTerminate = "Terminate"
	EventTypeReboot    = "Reboot"
	EventTypeRedeploy  = "Redeploy"
)

// Identity is the VM identity used in webhook payloads. Field values are
// kept exactly as IMDS reports them; the receiving side may be
// case-sensitive.
type Identity struct {
	ResourceGroup string
	VMName        string
}

// ScheduledEvent is one entry from the scheduled events document. NotBefore
// is empty when Azure gives no lead time.
type ScheduledEvent struct {
	EventID   string `json:"EventId"`
	EventType string `json:"EventType"`
	NotBefore string `json:"NotBefore"`
}

// Disruptive reports whether the event announces an impending VM
// disruption, as opposed to informational event types.
func (e ScheduledEvent) Disruptive() bool {
	switch e.EventType {
	case EventTypePreempt, EventTypeTerminate, EventTypeReboot, EventTypeRedeploy:
		return true
	default:
		return false
	}
}

// Client fetches instance identity and scheduled events from IMDS.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient returns a Client against the given endpoint, or the well-known
// link-local address when endpoint is empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Identity fetches the VM name and resource group. Both fields must be
// present in the metadata document; a document missing either is treated
// the same as an unreachable service.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	var doc struct {
		Compute struct {
			Name              string `json:"name"`
			ResourceGroupName string `json:"resourceGroupName"`
		} `json:"compute"`
	}
	if err := c.get(ctx, instancePath, &doc); err != nil {
		return Identity{}, err
	}
	if doc.Compute.Name == "" || doc.Compute.ResourceGroupName == "" {
		return Identity{}, fmt.Errorf("metadata response missing vm name or resource group")
	}
	return Identity{
		ResourceGroup: doc.Compute.ResourceGroupName,
		VMName:        doc.Compute.Name,
	}, nil
}

// ScheduledEvents fetches the current scheduled events document. A document
// without an Events key yields an empty slice, not an error.
func (c *Client) ScheduledEvents(ctx context.Context) ([]ScheduledEvent, error) {
	var doc struct {
		Events []ScheduledEvent `json:"Events"`
	}
	if err := c.get(ctx, scheduledEventsPath, &doc); err != nil {
		return nil, err
	}
	return doc.Events, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("create metadata request: %w", err)
	}
	req.Header.Set(metadataHeader, "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("query metadata service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode metadata response: %w", err)
	}
	return nil
}
