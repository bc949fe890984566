package rotation

import (
	"context"
	"errors"
	"sync"

	"aistudio2api-go/internal/browser"
	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/credstore"
	"aistudio2api-go/internal/events"
	"aistudio2api-go/internal/monitoring"
	"aistudio2api-go/internal/monitoring/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrRotating rejects new requests while a switch is pending or running.
	ErrRotating = errors.New("rotating accounts")
	// ErrUnavailable is surfaced after a failed switch whose rollback also
	// failed; only external intervention clears it.
	ErrUnavailable = errors.New("credential rotation unavailable")
)

// Controller owns the credential-rotation state machine. All flags and
// counters live behind one mutex; the browser switch itself runs outside
// the critical section.
type Controller struct {
	cfg     *config.Config
	store   credstore.Store
	session browser.Session
	hub     events.Publisher

	mu             sync.Mutex
	currentIndex   int
	usageCount     int
	failureCount   int
	pendingSwitch  bool
	pendingTarget  int // 0 means "next index"
	authSwitching  bool
	systemBusy     bool
	unavailable    bool
	activeRequests int
}

// Snapshot is a point-in-time copy of the rotation state for status output.
type Snapshot struct {
	CurrentIndex   int
	UsageCount     int
	FailureCount   int
	PendingSwitch  bool
	AuthSwitching  bool
	SystemBusy     bool
	Unavailable    bool
	ActiveRequests int
}

// NewController builds a controller starting at cfg.InitialAuthIndex, or the
// first available index when that one does not exist.
func NewController(cfg *config.Config, store credstore.Store, session browser.Session, hub events.Publisher) *Controller {
	current := cfg.InitialAuthIndex
	indices := store.AvailableIndices()
	found := false
	for _, idx := range indices {
		if idx == current {
			found = true
			break
		}
	}
	if !found && len(indices) > 0 {
		log.Warnf("Initial auth index %d not available; starting at %d", current, indices[0])
		current = indices[0]
	}
	return &Controller{
		cfg:          cfg,
		store:        store,
		session:      session,
		hub:          hub,
		currentIndex: current,
	}
}

// Accept gates a new request. On success the active-request count is
// incremented and, for generative requests, the usage counter advances and
// may arm a pending switch.
func (c *Controller) Accept(generative bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return ErrUnavailable
	}
	if c.pendingSwitch || c.authSwitching {
		return ErrRotating
	}

	c.activeRequests++
	if generative && c.cfg.SwitchOnUses > 0 {
		c.usageCount++
		if c.usageCount >= c.cfg.SwitchOnUses {
			log.Infof("Usage threshold reached (%d/%d); rotation pending", c.usageCount, c.cfg.SwitchOnUses)
			c.pendingSwitch = true
			c.pendingTarget = 0
		}
	}
	return nil
}

// Finalize releases one accepted request and runs the deferred switch when
// the last in-flight request drains. Must be called exactly once per
// accepted request.
func (c *Controller) Finalize() {
	c.mu.Lock()
	if c.activeRequests > 0 {
		c.activeRequests--
	}
	c.mu.Unlock()

	c.maybeExecuteDeferred()
}

// RecordFailure notes a terminal upstream error. It arms an immediate switch
// when the status is in the configured set or the failure count reaches the
// threshold. Failure-based triggers win over the usage-based one; triggers
// during an in-progress switch are no-ops.
func (c *Controller) RecordFailure(status int) {
	c.mu.Lock()
	c.failureCount++
	immediate := c.cfg.ImmediateSwitchCode(status)
	threshold := c.cfg.FailureThreshold > 0 && c.failureCount >= c.cfg.FailureThreshold
	if (immediate || threshold) && !c.authSwitching && !c.unavailable {
		if immediate {
			log.Warnf("Upstream status %d triggers immediate credential switch", status)
		} else {
			log.Warnf("Failure threshold reached (%d/%d); switching credentials", c.failureCount, c.cfg.FailureThreshold)
		}
		c.pendingSwitch = true
		c.pendingTarget = 0
	}
	c.mu.Unlock()

	c.maybeExecuteDeferred()
}

// RecordSuccess resets the failure counter after the first successful
// response following a failure.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
}

// RequestSwitch arms a manual rotation to the given index (0 selects the
// next index cyclically). It executes immediately when no requests are in
// flight; otherwise it stays pending and new requests are rejected until it
// runs. Manual switches may also retry out of the unavailable state.
func (c *Controller) RequestSwitch(target int) error {
	c.mu.Lock()
	if target != 0 && !c.hasIndex(target) {
		c.mu.Unlock()
		return errors.New("unknown credential index")
	}
	if c.authSwitching {
		c.mu.Unlock()
		return errors.New("switch already in progress")
	}
	c.unavailable = false
	c.pendingSwitch = true
	c.pendingTarget = target
	c.mu.Unlock()

	c.maybeExecuteDeferred()
	return nil
}

// CurrentIndex returns the active credential index.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentIndex
}

// SystemBusy reports whether a browser lifecycle operation is running.
func (c *Controller) SystemBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemBusy
}

// Get returns a snapshot of the rotation state.
func (c *Controller) Get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CurrentIndex:   c.currentIndex,
		UsageCount:     c.usageCount,
		FailureCount:   c.failureCount,
		PendingSwitch:  c.pendingSwitch,
		AuthSwitching:  c.authSwitching,
		SystemBusy:     c.systemBusy,
		Unavailable:    c.unavailable,
		ActiveRequests: c.activeRequests,
	}
}

// RecoverRelay reloads the current credential to reattach a lost relay.
// It refuses to run while another browser operation is in progress.
func (c *Controller) RecoverRelay(ctx context.Context) error {
	c.mu.Lock()
	if c.systemBusy || c.authSwitching {
		c.mu.Unlock()
		return errors.New("browser operation already in progress")
	}
	c.systemBusy = true
	index := c.currentIndex
	c.mu.Unlock()

	log.Infof("Attempting relay recovery with credential %d", index)
	err := c.session.SwitchTo(ctx, index)

	c.mu.Lock()
	c.systemBusy = false
	c.mu.Unlock()
	return err
}

// maybeExecuteDeferred runs the pending switch once no requests are in
// flight. The rotation lock is not held across the browser operation.
func (c *Controller) maybeExecuteDeferred() {
	c.mu.Lock()
	if !c.pendingSwitch || c.activeRequests > 0 || c.authSwitching || c.unavailable {
		c.mu.Unlock()
		return
	}
	c.authSwitching = true
	c.systemBusy = true
	target := c.pendingTarget
	if target == 0 {
		target = c.nextIndexLocked()
	}
	prev := c.currentIndex
	c.mu.Unlock()

	// The switch runs off the caller's goroutine so request finalisation
	// never blocks on the browser.
	go c.executeSwitch(prev, target)
}

func (c *Controller) executeSwitch(prev, target int) {
	ctx, span := tracing.StartSpan(context.Background(), "rotation", "SwitchCredential")
	span.SetAttributes(attribute.Int("rotation.from", prev), attribute.Int("rotation.to", target))
	defer span.End()

	log.Infof("Switching credentials: %d -> %d", prev, target)
	err := c.session.SwitchTo(ctx, target)

	if err == nil {
		c.mu.Lock()
		c.currentIndex = target
		c.usageCount = 0
		c.failureCount = 0
		c.pendingSwitch = false
		c.pendingTarget = 0
		c.authSwitching = false
		c.systemBusy = false
		c.mu.Unlock()
		monitoring.RotationsTotal.WithLabelValues("switch").Inc()
		c.hub.Publish(context.Background(), events.TopicRotationSwitched,
			map[string]int{"from": prev, "to": target}, nil)
		log.Infof("Credential switch complete; now on index %d", target)
		return
	}

	// authSwitching stays set through the rollback, which keeps every
	// competing operation excluded without holding the lock across it.
	span.RecordError(err)
	log.WithError(err).Errorf("Switch to credential %d failed; rolling back to %d", target, prev)
	monitoring.RotationsTotal.WithLabelValues("rollback").Inc()
	rollbackErr := c.session.SwitchTo(ctx, prev)

	c.mu.Lock()
	c.pendingSwitch = false
	c.pendingTarget = 0
	c.authSwitching = false
	c.systemBusy = false
	if rollbackErr != nil {
		c.unavailable = true
	}
	c.mu.Unlock()

	if rollbackErr != nil {
		monitoring.RotationsTotal.WithLabelValues("unavailable").Inc()
		c.hub.Publish(context.Background(), events.TopicRotationUnavailable,
			map[string]int{"from": prev, "to": target}, nil)
		log.WithError(rollbackErr).Error("Rollback failed; rotation unavailable until manual intervention")
	}
}

func (c *Controller) nextIndexLocked() int {
	indices := c.store.AvailableIndices()
	if len(indices) == 0 {
		return c.currentIndex
	}
	for _, idx := range indices {
		if idx > c.currentIndex {
			return idx
		}
	}
	return indices[0]
}

func (c *Controller) hasIndex(index int) bool {
	for _, idx := range c.store.AvailableIndices() {
		if idx == index {
			return true
		}
	}
	return false
}
