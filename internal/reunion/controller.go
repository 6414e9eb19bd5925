// Package reunion implements the reunion controller and UASF expiry timer
// described in spec.md §4.8: establishing cross-partition gossip and
// reorging the lower-work side onto the heavier tip, with a bounded
// convergence timeout, plus the flag-day action a UASF deadline fires
// (reunion, accept, or continue as a permanent — "zombie" — split).
package reunion

import (
	"fmt"
	"time"

	"github.com/btcforks/forksim/internal/chainstore"
	"github.com/btcforks/forksim/pkg/models"
)

// ExpiryAction names what happens when the UASF countdown reaches zero.
type ExpiryAction string

const (
	// ActionReunion forces a full cross-link: every node on the
	// lower-cumulative-work side reorgs onto the heavier tip.
	ActionReunion ExpiryAction = "reunion"
	// ActionAccept flips the permissive side to accept the stricter
	// fork's blocks going forward, without an immediate reorg.
	ActionAccept ExpiryAction = "accept"
	// ActionContinue takes no action; the split becomes permanent.
	ActionContinue ExpiryAction = "continue"
)

// Config holds the reunion controller's tunables (spec.md §6).
type Config struct {
	EnableReunion    bool
	ReunionTimeout   time.Duration
	UASFDuration     time.Duration
	UASFExpiryAction ExpiryAction
}

// TimeoutError is returned when a reunion attempt's convergence timeout
// expires with nodes still unconverged (spec.md §7's ReunionTimeout error
// class: reported, non-zero exit).
type TimeoutError struct {
	Unconverged []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reunion: %d node(s) failed to converge within the configured timeout", len(e.Unconverged))
}

// Outcome records what a reunion attempt or UASF expiry firing actually
// did, for the metrics aggregator's terminal summary.
type Outcome struct {
	Action      ExpiryAction
	Winner      models.ForkID
	Converged   []string
	Unconverged []string
	Events      []models.ReorgEvent
}

// Controller runs the reunion/UASF state machine. TriggerReunion is a no-op
// if EnableReunion is false; CheckUASFExpiry does not consult that flag.
type Controller struct {
	cfg       Config
	uasfStart time.Duration
	fired     bool
}

// New creates a Controller. uasfStart is the simulated time the UASF
// countdown begins (typically t=0, or the time the split was introduced).
func New(cfg Config, uasfStart time.Duration) *Controller {
	return &Controller{cfg: cfg, uasfStart: uasfStart}
}

// CheckUASFExpiry fires at most once: if the UASF countdown has elapsed and
// it has not already fired, it carries out the configured ExpiryAction
// against store and returns the Outcome. Returns (Outcome{}, false) if
// nothing fired this call.
func (c *Controller) CheckUASFExpiry(store *chainstore.Store, now time.Time, simNow time.Duration) (Outcome, bool, error) {
	if c.fired || c.cfg.UASFDuration <= 0 {
		return Outcome{}, false, nil
	}
	if simNow-c.uasfStart < c.cfg.UASFDuration {
		return Outcome{}, false, nil
	}
	c.fired = true

	switch c.cfg.UASFExpiryAction {
	case ActionAccept:
		for _, n := range store.Nodes() {
			if n.Partition == models.PartitionV26 {
				store.AcceptForeign(n.ID)
			}
		}
		return Outcome{Action: ActionAccept}, true, nil
	case ActionReunion:
		return c.forceReunion(store, now)
	default:
		return Outcome{Action: ActionContinue}, true, nil
	}
}

// TriggerReunion runs an explicit reunion attempt outside of UASF expiry
// (e.g. a scenario script calling for reunion at a fixed time). It is
// idempotent: once every node sits on the winning fork, a further call
// converges nothing and returns no error.
func (c *Controller) TriggerReunion(store *chainstore.Store, now time.Time) (Outcome, error) {
	if !c.cfg.EnableReunion {
		return Outcome{}, nil
	}
	out, _, err := c.forceReunion(store, now)
	return out, err
}

func (c *Controller) forceReunion(store *chainstore.Store, now time.Time) (Outcome, bool, error) {
	winner, converged, unconverged, events := store.CrossLink(c.cfg.ReunionTimeout, now)
	out := Outcome{
		Action:      ActionReunion,
		Winner:      winner,
		Converged:   converged,
		Unconverged: unconverged,
		Events:      events,
	}
	if len(unconverged) > 0 {
		return out, true, &TimeoutError{Unconverged: unconverged}
	}
	return out, true, nil
}
