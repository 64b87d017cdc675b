package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/draft"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/tracker"
)

// ChainClient is the slice of the chain facade the controller uses.
type ChainClient interface {
	Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error)
	CurrentPicker(ctx context.Context, id domain.MatchID) (common.Address, error)
	WalletAddress() common.Address
	SubmitExecuteRace(ctx context.Context, id domain.MatchID) (common.Hash, error)
	SubmitClaimWinnings(ctx context.Context, id domain.MatchID) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error)
	SubscribeMatchLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error)
}

// Config tunes the observation loops.
type Config struct {
	// PollInterval drives the steady-state refresh tick.
	PollInterval time.Duration
	// DraftPollInterval replaces it while a draft is in progress, where
	// turn latency matters.
	DraftPollInterval time.Duration
	// LobbyWindow is the client-observed expiry for unjoined matches.
	// A wall-clock policy of this client, not a contract deadline.
	LobbyWindow time.Duration
	// DraftWindow is the contract's TOTAL_GAME_TIME constant, read once
	// at startup. Zero disables the draft clock in projected views.
	DraftWindow time.Duration
	// AutoClaim submits claimWinnings without being asked once a won
	// match resolves.
	AutoClaim bool

	ReceiptAttempts int
	ReceiptInterval time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		PollInterval:      3 * time.Second,
		DraftPollInterval: 2 * time.Second,
		LobbyWindow:       600 * time.Second,
		ReceiptAttempts:   30,
		ReceiptInterval:   500 * time.Millisecond,
	}
}

// followState is the controller's per-match memory between refreshes.
// Everything else is recomputed from scratch each tick.
type followState struct {
	cancel  context.CancelFunc
	refresh chan struct{}

	phase         domain.Phase
	phaseKnown    bool
	lastPicker    common.Address
	expired       bool
	raceSubmitted bool
	claimed       bool
	resolvedSeen  bool
}

// Controller owns every followed match's view. Poll ticks and pushed
// log events both funnel into the same refresh path, so the transition
// logic runs in exactly one place and duplicate triggers collapse into
// one application per observed fact.
type Controller struct {
	chain   ChainClient
	tracker *tracker.Tracker
	views   *projection.ViewCache
	buffer  *draft.Buffer
	publish func(domain.MatchEvent)
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	follows map[domain.MatchID]*followState
}

// New wires a controller. publish receives every emitted match event
// and must not block.
func New(cc ChainClient, tr *tracker.Tracker, views *projection.ViewCache, buffer *draft.Buffer, publish func(domain.MatchEvent), cfg Config, logger *slog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		chain:   cc,
		tracker: tr,
		views:   views,
		buffer:  buffer,
		publish: publish,
		cfg:     cfg,
		logger:  logger,
		follows: make(map[domain.MatchID]*followState),
	}
}

// Run consumes the contract's log stream for as long as ctx lives,
// converting each pushed log into a refresh poke for the affected
// match. Without a subscription-capable endpoint the controller still
// works; polling alone observes everything, just later.
func (c *Controller) Run(ctx context.Context) {
	sink := make(chan types.Log, 64)
	sub, err := c.chain.SubscribeMatchLogs(ctx, sink)
	if err != nil {
		c.logger.Warn("log subscription unavailable, polling only", "error", err)
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			c.logger.Warn("log subscription dropped, polling only", "error", err)
			return
		case log := <-sink:
			id, ok := chain.MatchIDFromLog(log)
			if !ok {
				continue
			}
			c.logger.Debug("contract log", "event", chain.EventName(log), "match", id)
			c.Poke(id)
		}
	}
}

// Poke requests an immediate refresh of a followed match. Safe from any
// goroutine; unfollowed matches are ignored.
func (c *Controller) Poke(id domain.MatchID) {
	c.mu.Lock()
	st, ok := c.follows[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case st.refresh <- struct{}{}:
	default: // a refresh is already queued
	}
}

// Follow starts observing a match. Idempotent; a second Follow of the
// same match only pokes the existing loop.
func (c *Controller) Follow(ctx context.Context, id domain.MatchID) {
	c.mu.Lock()
	if _, ok := c.follows[id]; ok {
		c.mu.Unlock()
		c.Poke(id)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	st := &followState{cancel: cancel, refresh: make(chan struct{}, 1)}
	c.follows[id] = st
	c.mu.Unlock()

	go c.loop(loopCtx, id, st)
}

// Unfollow stops the match's loop and drops its cached view. Buffered
// selections go too; a stale buffer against a match followed again
// later would validate against the wrong snapshot.
func (c *Controller) Unfollow(id domain.MatchID) {
	c.mu.Lock()
	st, ok := c.follows[id]
	if ok {
		delete(c.follows, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	st.cancel()
	c.views.Delete(id)
	c.buffer.Clear(id)
}

// Following lists the matches currently observed.
func (c *Controller) Following() []domain.MatchID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.MatchID, 0, len(c.follows))
	for id := range c.follows {
		out = append(out, id)
	}
	return out
}

func (c *Controller) loop(ctx context.Context, id domain.MatchID, st *followState) {
	defer func() {
		c.mu.Lock()
		if cur, ok := c.follows[id]; ok && cur == st {
			delete(c.follows, id)
		}
		c.mu.Unlock()
	}()

	// First refresh immediately so Follow returns a usable view fast.
	c.refresh(ctx, id, st)

	for {
		interval := c.cfg.PollInterval
		if st.phase == domain.PhaseDrafting {
			interval = c.cfg.DraftPollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-st.refresh:
		case <-time.After(interval):
		}
		c.refresh(ctx, id, st)
		if st.phaseKnown && st.phase.Terminal() {
			c.logger.Info("match reached terminal phase, stopping observation", "match", id, "phase", st.phase)
			return
		}
	}
}

// refresh performs one full observation: read, project, reconcile,
// react. It is the single reconciliation point for poll ticks, pushed
// events and manual refresh requests, and is idempotent per observed
// fact: replaying the same chain state produces no second transition.
func (c *Controller) refresh(ctx context.Context, id domain.MatchID, st *followState) {
	rec, err := c.chain.Match(ctx, id)
	if err != nil {
		c.logger.Warn("match refresh failed", "match", id, "error", err)
		return
	}

	var picker common.Address
	code := domain.Phase(rec.PhaseCode)
	if code == domain.PhaseJoined || code == domain.PhaseDrafting {
		if p, err := c.chain.CurrentPicker(ctx, id); err == nil {
			picker = p
		} else {
			c.logger.Warn("picker read failed", "match", id, "error", err)
		}
	}

	now := time.Now()
	view := projection.Project(projection.Input{
		MatchID:     id,
		Record:      rec,
		Picker:      picker,
		Self:        c.chain.WalletAddress(),
		Now:         now,
		LobbyWindow: c.cfg.LobbyWindow,
		DraftWindow: c.cfg.DraftWindow,
	})

	view.Phase = c.reconcilePhase(st, view)
	c.applyView(ctx, st, &view)
}

// reconcilePhase derives the local phase from the contract's, applying
// the observation policies the raw phase code does not carry.
func (c *Controller) reconcilePhase(st *followState, view domain.MatchView) domain.Phase {
	phase := view.Phase

	// Entering the draft is gated by who is looking. The first picker
	// holds at Joined until a turn observably exists, so they never
	// land on a turn the other replica cannot see yet. The non-first
	// picker only waits and watches, so they advance as soon as the
	// opponent is visible.
	if phase == domain.PhaseJoined {
		if view.IsFirstPicker {
			if view.CurrentPicker != domain.ZeroAddress {
				phase = domain.PhaseDrafting
			}
		} else if view.HasOpponent {
			phase = domain.PhaseDrafting
		}
	}

	// Lobby expiry is a client policy: the contract never cancels.
	if phase == domain.PhasePending && !view.HasOpponent &&
		view.TimerMeaningful && view.SecondsRemaining <= 0 {
		phase = domain.PhaseCancelled
	}

	// Phases only move forward. A read lagging behind what was already
	// observed is stale, not a regression.
	if st.phaseKnown && phase < st.phase && st.phase != domain.PhaseCancelled {
		phase = st.phase
	}
	return phase
}

// applyView commits one reconciled view: atomic replace in the cache,
// then the reactions keyed off what changed since the last application.
func (c *Controller) applyView(ctx context.Context, st *followState, view *domain.MatchView) {
	prevKnown, prevPhase := st.phaseKnown, st.phase

	c.views.Put(*view)
	c.emit(domain.NewViewUpdatedEvent(*view))

	if !prevKnown || view.Phase != prevPhase {
		st.phase = view.Phase
		st.phaseKnown = true
		if prevKnown {
			c.logger.Info("phase transition", "match", view.MatchID, "from", prevPhase, "to", view.Phase)
			c.emit(domain.NewPhaseChangedEvent(view.MatchID, prevPhase, view.Phase))
		}
	}

	if view.Phase == domain.PhaseCancelled && !st.expired {
		st.expired = true
		c.logger.Info("lobby window expired", "match", view.MatchID)
		c.emit(domain.NewMatchExpiredEvent(view.MatchID, int64(c.cfg.LobbyWindow/time.Second)))
	}

	if view.Phase == domain.PhaseDrafting {
		if view.CurrentPicker != st.lastPicker && view.CurrentPicker != domain.ZeroAddress {
			st.lastPicker = view.CurrentPicker
			c.emit(domain.NewTurnChangedEvent(view.MatchID, view.IsMyTurn))
		}
		// With only one legal selection left there is nothing to
		// choose; pre-fill the buffer so the turn is one click.
		if view.IsMyTurn && view.TicketsRemainingThisTurn > 0 &&
			len(view.AvailableHorses) == view.TicketsRemainingThisTurn {
			c.buffer.AutoFill(*view)
		}
	}

	if view.HasResult && !st.resolvedSeen {
		st.resolvedSeen = true
		c.emit(domain.NewRaceResolvedEvent(view.MatchID, view.Winners))
	}

	c.react(ctx, st, view)
}

// react issues the controller's own writes: the race trigger and the
// optional claim. Each fires at most once per match.
func (c *Controller) react(ctx context.Context, st *followState, view *domain.MatchView) {
	// The opponent is the designated race executor. Exactly one
	// attempt; a failure leaves the manual trigger available.
	if view.Phase == domain.PhaseReadyToRace &&
		view.Role == domain.RoleOpponent && !st.raceSubmitted {
		st.raceSubmitted = true
		id := view.MatchID
		go func() {
			if _, err := c.ExecuteRace(ctx, id); err != nil {
				c.logger.Warn("auto race trigger failed", "match", id, "error", err)
			}
		}()
	}

	if c.cfg.AutoClaim && view.Phase == domain.PhaseResolved &&
		view.HasResult && view.Role != domain.RoleObserver && !st.claimed {
		st.claimed = true
		id := view.MatchID
		go func() {
			if _, err := c.ClaimWinnings(ctx, id); err != nil {
				c.logger.Warn("auto claim failed", "match", id, "error", err)
			}
		}()
	}
}

// ExecuteRace submits the race trigger and waits for the winners to
// become readable.
func (c *Controller) ExecuteRace(ctx context.Context, id domain.MatchID) (domain.TrackedTransaction, error) {
	return c.tracker.Track(ctx, id, domain.TxExecuteRace,
		func(ctx context.Context) (common.Hash, error) {
			return c.chain.SubmitExecuteRace(ctx, id)
		},
		c.awaitReceipt,
		func(ctx context.Context) (bool, error) {
			rec, err := c.chain.Match(ctx, id)
			if err != nil {
				return false, err
			}
			return rec.Winners[0] != 0 || domain.Phase(rec.PhaseCode) == domain.PhaseResolved, nil
		},
	)
}

// ClaimWinnings submits the payout claim. Settlement is the phase
// reading Resolved; the contract tracks per-address claims internally
// and a double claim reverts, which surfaces as a terminal error.
func (c *Controller) ClaimWinnings(ctx context.Context, id domain.MatchID) (domain.TrackedTransaction, error) {
	return c.tracker.Track(ctx, id, domain.TxClaim,
		func(ctx context.Context) (common.Hash, error) {
			return c.chain.SubmitClaimWinnings(ctx, id)
		},
		c.awaitReceipt,
		func(ctx context.Context) (bool, error) {
			rec, err := c.chain.Match(ctx, id)
			if err != nil {
				return false, err
			}
			return domain.Phase(rec.PhaseCode) == domain.PhaseResolved, nil
		},
	)
}

func (c *Controller) awaitReceipt(ctx context.Context, hash common.Hash) error {
	_, err := c.chain.AwaitReceipt(ctx, hash, c.cfg.ReceiptAttempts, c.cfg.ReceiptInterval)
	return err
}

func (c *Controller) emit(ev domain.MatchEvent) {
	if c.publish != nil {
		c.publish(ev)
	}
}
