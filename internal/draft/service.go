package draft

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/tracker"
)

// ChainClient is the slice of the chain facade the draft service needs.
type ChainClient interface {
	SubmitSelectHorses(ctx context.Context, id domain.MatchID, horses []uint8) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error)
	Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error)
}

const (
	receiptAttempts = 30
	receiptInterval = 500 * time.Millisecond
)

// Service validates and submits draft turns. All validation runs
// client-side against the latest projected view before anything is
// signed; the contract re-validates authoritatively anyway.
type Service struct {
	chain   ChainClient
	tracker *tracker.Tracker
	views   *projection.ViewCache
	buffer  *Buffer
	prefs   *prefs.Store
	logger  *slog.Logger
}

// NewService wires the draft service. prefs may be nil; the roster is
// then simply not remembered between matches.
func NewService(chain ChainClient, tr *tracker.Tracker, views *projection.ViewCache, buffer *Buffer, pf *prefs.Store, logger *slog.Logger) *Service {
	return &Service{chain: chain, tracker: tr, views: views, buffer: buffer, prefs: pf, logger: logger}
}

// Buffer exposes the selection buffer for toggle and auto-fill calls.
func (s *Service) Buffer() *Buffer {
	return s.buffer
}

// SubmitPicks submits one complete turn. All-or-nothing: the picks go
// to the chain as a single transaction or not at all. The buffered
// selection is cleared only once the picks are visible on-chain.
func (s *Service) SubmitPicks(ctx context.Context, id domain.MatchID, picks []uint8) (domain.TrackedTransaction, error) {
	view, ok := s.views.Get(id)
	if !ok {
		return domain.TrackedTransaction{}, domain.ErrMatchNotFound(id.String())
	}
	if err := Validate(view, picks); err != nil {
		return domain.TrackedTransaction{}, err
	}

	role := view.Role
	var settledRoster domain.Roster
	tx, err := s.tracker.Track(ctx, id, domain.TxPick,
		func(ctx context.Context) (common.Hash, error) {
			return s.chain.SubmitSelectHorses(ctx, id, picks)
		},
		func(ctx context.Context, hash common.Hash) error {
			_, err := s.chain.AwaitReceipt(ctx, hash, receiptAttempts, receiptInterval)
			return err
		},
		func(ctx context.Context) (bool, error) {
			rec, err := s.chain.Match(ctx, id)
			if err != nil {
				return false, err
			}
			roster := domain.Roster(rec.CreatorHorses)
			if role == domain.RoleOpponent {
				roster = domain.Roster(rec.OpponentHorses)
			}
			for _, h := range picks {
				if !roster.Contains(h) {
					return false, nil
				}
			}
			settledRoster = roster.Clone()
			return true, nil
		},
	)
	if err != nil {
		return tx, err
	}

	s.buffer.Clear(id)
	// Remember the roster the way the stake is remembered, so the next
	// draft can be prefilled from it.
	if s.prefs != nil && len(settledRoster) > 0 {
		if err := s.prefs.SetLastHorses(settledRoster); err != nil {
			s.logger.Warn("persisting roster preference failed", "error", err)
		}
	}
	s.logger.Info("picks settled", "match", id, "picks", picks)
	return tx, nil
}

// SubmitBuffered submits the buffered selection as the turn.
func (s *Service) SubmitBuffered(ctx context.Context, id domain.MatchID) (domain.TrackedTransaction, error) {
	return s.SubmitPicks(ctx, id, s.buffer.Selected(id))
}
