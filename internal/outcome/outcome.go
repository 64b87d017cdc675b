package outcome

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/projection"
)

// WinnersFromReceipt scans the executeRace receipt for the race result
// event. The receipt interleaves token transfer logs with the game
// contract's own; a linear scan takes the first log that decodes. No
// decodable event in a successful receipt is a distinct failure from
// the race not having run.
func WinnersFromReceipt(receipt *types.Receipt) ([3]uint8, error) {
	for _, log := range receipt.Logs {
		if log == nil || chain.EventName(*log) != chain.EvRaceCompleted {
			continue
		}
		winners, err := chain.DecodeRaceWinners(*log)
		if err != nil {
			continue
		}
		return winners, nil
	}
	return [3]uint8{}, domain.ErrNoMatchingEvent()
}

// MatchReader is the read slice of the chain facade used here.
type MatchReader interface {
	Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error)
}

// Service resolves outcomes for finished matches.
type Service struct {
	chain  MatchReader
	views  *projection.ViewCache
	logger *slog.Logger
}

// NewService wires the outcome service.
func NewService(chain MatchReader, views *projection.ViewCache, logger *slog.Logger) *Service {
	return &Service{chain: chain, views: views, logger: logger}
}

// Result reads the match and computes the attributed outcome. The
// authoritative winners come from match state; receipts are only a
// faster path used while the read lags.
func (s *Service) Result(ctx context.Context, id domain.MatchID) (Result, error) {
	view, ok := s.views.Get(id)
	if !ok {
		rec, err := s.chain.Match(ctx, id)
		if err != nil {
			return Result{}, err
		}
		view = projectionless(id, rec)
	}

	if !view.HasResult {
		return Result{}, domain.ErrRaceNotRun()
	}
	return Compute(view, view.Winners), nil
}

// projectionless builds the minimum view needed by Compute when the
// lifecycle controller is not following this match.
func projectionless(id domain.MatchID, rec *chain.MatchRecord) domain.MatchView {
	return domain.MatchView{
		MatchID:        id,
		Phase:          domain.Phase(rec.PhaseCode),
		Role:           domain.RoleObserver,
		BetAmount:      rec.BetAmount,
		IsNFT:          rec.IsNFT,
		CreatorHorses:  domain.Roster(rec.CreatorHorses),
		OpponentHorses: domain.Roster(rec.OpponentHorses),
		Winners:        rec.Winners,
		HasResult:      rec.Winners[0] != 0,
	}
}
