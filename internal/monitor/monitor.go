// Package monitor runs the poll-detect-notify loop: it resolves the VM
// identity once, then polls the scheduled events endpoint, relays the
// first new disruptive event to the webhook, and emits periodic
// heartbeats. Everything runs on a single goroutine; polling failures and
// notification failures are isolated from each other and neither ever
// stops the loop.
package monitor

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/imds"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/webhook"
)

const (
	// DefaultResourceGroup is used when the metadata service never
	// answers and no resource group can be resolved.
	DefaultResourceGroup = "test"

	// EventsSubject is the bus subject detected events are published to.
	EventsSubject = "spot.vm.events"

	identityAttempts   = 5
	identityRetryPause = 2 * time.Second

	defaultMaxConsecutiveErrors = 10
	defaultMaxBackoff           = 300 * time.Second
)

// MetadataSource provides VM identity and scheduled events.
type MetadataSource interface {
	Identity(ctx context.Context) (imds.Identity, error)
	ScheduledEvents(ctx context.Context) ([]imds.ScheduledEvent, error)
}

// Notifier delivers one identity notification and classifies the outcome.
type Notifier interface {
	Send(ctx context.Context, id webhook.Identity) webhook.Result
}

// Publisher mirrors notified events onto a local bus, best-effort.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// DetectedEvent is the bus payload for a disruption event that was
// successfully relayed to the webhook.
type DetectedEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	NotBefore     string    `json:"notBefore"`
	ResourceGroup string    `json:"resourceGroup"`
	VMName        string    `json:"vmName"`
	DetectedAt    time.Time `json:"detectedAt"`
}

// Options controls loop cadence and backoff behaviour.
type Options struct {
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration

	// MaxConsecutiveErrors is the error count past which the loop enters
	// an extended backoff sleep. Zero means the default of 10.
	MaxConsecutiveErrors int

	// MaxBackoff caps the extended backoff sleep. Zero means 300s.
	MaxBackoff time.Duration

	// Publisher, when non-nil, receives every notified event.
	Publisher Publisher
}

// Monitor owns the loop state. It is not safe for concurrent use; exactly
// one goroutine runs the loop and it is the only writer of any field.
type Monitor struct {
	opts     Options
	meta     MetadataSource
	notifier Notifier
	tracker  *Tracker
	metrics  *Metrics
	logger   *log.Logger

	identity imds.Identity
	ready    atomic.Bool

	consecutiveErrors int
	lastHeartbeat     time.Time

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) bool
	hostname   func() (string, error)
	retryPause time.Duration
}

// New returns a Monitor ready to Run.
func New(opts Options, meta MetadataSource, notifier Notifier, tracker *Tracker, metrics *Metrics, logger *log.Logger) *Monitor {
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Monitor{
		opts:       opts,
		meta:       meta,
		notifier:   notifier,
		tracker:    tracker,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
		hostname:   os.Hostname,
		retryPause: identityRetryPause,
	}
}

// Ready reports whether identity resolution has finished. Used by the
// ops readiness endpoint.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// Run executes the monitor loop until ctx is cancelled. Runtime failures
// never terminate the loop; the only exits are context cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	m.identity = m.resolveIdentity(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.ready.Store(true)

	m.logger.Printf("INFO monitoring VM %q in resource group %q", m.identity.VMName, m.identity.ResourceGroup)
	m.logger.Printf("INFO check interval: %s, heartbeat interval: %s", m.opts.CheckInterval, m.opts.HeartbeatInterval)

	// One diagnostic send up front so operators see auth or routing
	// problems immediately. Failure only informs, never aborts.
	m.logger.Printf("INFO testing webhook connectivity")
	res := m.notifier.Send(ctx, m.payload())
	m.metrics.Notifications.WithLabelValues(res.String()).Inc()
	if res == webhook.Success {
		m.logger.Printf("INFO webhook connectivity test successful")
	} else {
		m.logger.Printf("WARN webhook connectivity test failed (%s) - continuing anyway", res)
	}

	m.lastHeartbeat = m.now()

	for {
		m.cycle(ctx)

		if m.consecutiveErrors > m.opts.MaxConsecutiveErrors {
			pause := min(m.opts.MaxBackoff, 2*m.opts.CheckInterval)
			m.logger.Printf("WARN too many consecutive errors (%d), backing off for %s", m.consecutiveErrors, pause)
			m.metrics.Backoffs.Inc()
			if !m.sleep(ctx, pause) {
				return ctx.Err()
			}
			// Halve instead of zeroing so a persistent fault keeps
			// re-entering backoff quickly while a one-off burst does not
			// disable fast polling for long.
			m.consecutiveErrors = m.opts.MaxConsecutiveErrors / 2
		}

		if !m.sleep(ctx, m.opts.CheckInterval) {
			return ctx.Err()
		}
	}
}

// cycle runs one poll-detect-notify pass plus the heartbeat check.
func (m *Monitor) cycle(ctx context.Context) {
	events, err := m.meta.ScheduledEvents(ctx)
	if err != nil {
		m.consecutiveErrors++
		m.metrics.PollErrors.Inc()
		m.logger.Printf("ERROR checking scheduled events (attempt %d): %v", m.consecutiveErrors, err)
	} else {
		m.consecutiveErrors = 0
		m.metrics.Polls.Inc()
		if ev, ok := m.nextUnprocessed(events); ok {
			m.handleEvent(ctx, ev)
		}
	}

	if m.now().Sub(m.lastHeartbeat) >= m.opts.HeartbeatInterval {
		m.logger.Printf("INFO sending heartbeat notification")
		res := m.notifier.Send(ctx, m.payload())
		m.metrics.Heartbeats.Inc()
		m.metrics.Notifications.WithLabelValues(res.String()).Inc()
		if res != webhook.Success {
			m.logger.Printf("WARN heartbeat notification failed (%s)", res)
		}
		// A failed heartbeat is superseded by the next one, not retried.
		m.lastHeartbeat = m.now()
	}
}

// nextUnprocessed returns the first disruptive event that has not been
// notified yet.
func (m *Monitor) nextUnprocessed(events []imds.ScheduledEvent) (imds.ScheduledEvent, bool) {
	for _, ev := range events {
		if ev.Disruptive() && !m.tracker.Contains(ev.EventID) {
			return ev, true
		}
	}
	return imds.ScheduledEvent{}, false
}

func (m *Monitor) handleEvent(ctx context.Context, ev imds.ScheduledEvent) {
	notBefore := ev.NotBefore
	if notBefore == "" {
		notBefore = m.now().UTC().Format(time.RFC3339)
	}
	m.logger.Printf("WARN VM termination event detected: %s, scheduled for: %s", ev.EventType, notBefore)
	m.metrics.EventsDetected.WithLabelValues(ev.EventType).Inc()

	res := m.notifier.Send(ctx, m.payload())
	m.metrics.Notifications.WithLabelValues(res.String()).Inc()
	if res != webhook.Success {
		// Leave the event unmarked so the next poll retries it.
		m.logger.Printf("WARN webhook failed (%s), will retry on next check", res)
		return
	}

	m.tracker.MarkProcessed(ev.EventID)
	m.logger.Printf("INFO processed event %s", ev.EventID)

	if m.opts.Publisher != nil {
		detected := DetectedEvent{
			EventID:       ev.EventID,
			EventType:     ev.EventType,
			NotBefore:     notBefore,
			ResourceGroup: m.identity.ResourceGroup,
			VMName:        m.identity.VMName,
			DetectedAt:    m.now().UTC(),
		}
		if err := m.opts.Publisher.Publish(ctx, EventsSubject, detected); err != nil {
			m.logger.Printf("WARN publish detected event: %v", err)
		}
	}
}

// resolveIdentity queries the metadata service with a bounded constant
// retry, then falls back to the local hostname and a default resource
// group. Entered exactly once per process; never fatal.
func (m *Monitor) resolveIdentity(ctx context.Context) imds.Identity {
	var (
		id      imds.Identity
		attempt int
	)
	op := func() error {
		attempt++
		got, err := m.meta.Identity(ctx)
		if err != nil {
			m.logger.Printf("WARN failed to get metadata, retry %d/%d: %v", attempt, identityAttempts, err)
			return err
		}
		id = got
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryPause), identityAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if id.VMName == "" {
			name, herr := m.hostname()
			if herr != nil || name == "" {
				name = "unknown"
			}
			m.logger.Printf("WARN could not get VM name, using hostname: %s", name)
			id.VMName = name
		}
		if id.ResourceGroup == "" {
			m.logger.Printf("WARN could not get resource group, using default: %s", DefaultResourceGroup)
			id.ResourceGroup = DefaultResourceGroup
		}
	}
	return id
}

func (m *Monitor) payload() webhook.Identity {
	return webhook.Identity{
		ResourceGroup: m.identity.ResourceGroup,
		VMName:        m.identity.VMName,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
