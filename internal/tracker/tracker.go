package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/guard"
)

// Submitter signs and broadcasts the transaction, returning its hash.
type Submitter func(ctx context.Context) (common.Hash, error)

// Awaiter blocks until the transaction's receipt lands or the poll
// budget runs out.
type Awaiter func(ctx context.Context, hash common.Hash) error

// SettledFn is the read-your-write predicate: it re-reads chain state
// and reports whether the transaction's effect is visible there.
type SettledFn func(ctx context.Context) (bool, error)

// Config bounds the settlement verification loop.
type Config struct {
	SettleAttempts int
	SettleInterval time.Duration
}

// DefaultConfig matches the production budgets: settlement is verified
// for up to 12.5 seconds before the soft failure path.
func DefaultConfig() Config {
	return Config{
		SettleAttempts: 25,
		SettleInterval: 500 * time.Millisecond,
	}
}

// Tracker drives each write through submit, confirm and settle, with at
// most one outstanding transaction per (match, kind). A confirmed
// receipt is not the end: on a public chain the read path lags the
// write path, so the effect is additionally verified by re-reading
// before the transaction counts as settled.
type Tracker struct {
	inflight *guard.Inflight
	cfg      Config
	logger   *slog.Logger

	mu      sync.RWMutex
	current map[string]domain.TrackedTransaction

	// onChange, when set, observes every status transition.
	onChange func(domain.TrackedTransaction)
}

// New creates a tracker.
func New(inflight *guard.Inflight, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.SettleAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{
		inflight: inflight,
		cfg:      cfg,
		logger:   logger,
		current:  make(map[string]domain.TrackedTransaction),
	}
}

// OnChange registers the status-transition observer. Must be called
// before any Track.
func (t *Tracker) OnChange(fn func(domain.TrackedTransaction)) {
	t.onChange = fn
}

// Current returns the latest tracked transaction for a (match, kind),
// if any has been started.
func (t *Tracker) Current(id domain.MatchID, kind domain.TxKind) (domain.TrackedTransaction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.current[trackKey(id, kind)]
	return tx, ok
}

// Track runs one write end to end. It blocks until the transaction
// settles, soft-fails or hard-fails, and returns the final record.
//
// Error semantics: a hard failure (wallet refusal, revert, lost
// receipt) returns the underlying error. Settlement exhaustion returns
// ErrSettlementUnverified with SoftFailed set on the record; the write
// is probably on-chain and the caller may safely re-check later.
func (t *Tracker) Track(ctx context.Context, id domain.MatchID, kind domain.TxKind, submit Submitter, await Awaiter, settled SettledFn) (domain.TrackedTransaction, error) {
	if res := t.inflight.Acquire(id, kind); !res.Allowed {
		return domain.TrackedTransaction{}, domain.ErrActionInFlight(kind)
	}
	defer t.inflight.Release(id, kind)

	tx := domain.TrackedTransaction{
		ID:          uuid.New(),
		MatchID:     id,
		Kind:        kind,
		Status:      domain.TxIdle,
		SubmittedAt: time.Now(),
	}
	t.store(tx)

	hash, err := submit(ctx)
	if err != nil {
		return t.fail(tx, err), err
	}
	tx.Hash = &hash
	tx.Status = domain.TxSubmitted
	t.store(tx)
	t.logger.Info("transaction tracked", "kind", kind, "match", id, "hash", hash)

	if err := await(ctx, hash); err != nil {
		return t.fail(tx, err), err
	}
	tx.Status = domain.TxConfirmed
	t.store(tx)

	for tx.Attempts < t.cfg.SettleAttempts {
		tx.Attempts++
		ok, err := settled(ctx)
		if err != nil {
			t.logger.Warn("settlement check failed", "kind", kind, "attempt", tx.Attempts, "error", err)
		} else if ok {
			tx.Status = domain.TxSettled
			t.store(tx)
			return tx, nil
		}
		if tx.Attempts == t.cfg.SettleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return t.fail(tx, ctx.Err()), ctx.Err()
		case <-time.After(t.cfg.SettleInterval):
		}
	}

	// Budget exhausted with a confirmed receipt: the effect is very
	// likely on-chain but the read path has not caught up. Soft fail
	// so the user can retry the verification, not the action.
	tx.SoftFailed = true
	appErr := domain.ErrSettlementUnverified(kind)
	tx.FailReason = appErr.Message
	t.store(tx)
	t.logger.Warn("settlement unverified", "kind", kind, "match", id, "attempts", tx.Attempts)
	return tx, appErr
}

// Reset clears the tracked record for a (match, kind) and frees its
// inflight slot. The escape hatch for a wedged transaction; never
// called automatically.
func (t *Tracker) Reset(id domain.MatchID, kind domain.TxKind) {
	t.inflight.Release(id, kind)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.current, trackKey(id, kind))
}

func (t *Tracker) fail(tx domain.TrackedTransaction, err error) domain.TrackedTransaction {
	tx.Status = domain.TxFailed
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		tx.FailReason = appErr.Message
	} else if err != nil {
		tx.FailReason = err.Error()
	}
	t.store(tx)
	return tx
}

func (t *Tracker) store(tx domain.TrackedTransaction) {
	t.mu.Lock()
	t.current[trackKey(tx.MatchID, tx.Kind)] = tx
	t.mu.Unlock()
	if t.onChange != nil {
		t.onChange(tx)
	}
}

func trackKey(id domain.MatchID, kind domain.TxKind) string {
	return id.String() + ":" + string(kind)
}
