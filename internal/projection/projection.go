package projection

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
)

// Input is everything one projection tick reads: the raw contract state
// plus wall-clock context. All eventual-consistency quirks are absorbed
// here so downstream code sees one coherent view.
type Input struct {
	MatchID domain.MatchID
	Record  *chain.MatchRecord
	// Picker is the getCurrentPicker read taken in the same tick.
	Picker common.Address
	// Self is the local wallet address.
	Self common.Address
	Now  time.Time
	// LobbyWindow is the expiry window measured from CreatedAt.
	LobbyWindow time.Duration
	// DraftWindow is the contract's TOTAL_GAME_TIME constant, read once
	// at startup; zero when that read failed.
	DraftWindow time.Duration
}

// Project rebuilds the match view from scratch. It is pure: no I/O, no
// retained state, same inputs always yield the same view.
func Project(in Input) domain.MatchView {
	rec := in.Record
	v := domain.MatchView{
		MatchID:         in.MatchID,
		Phase:           domain.Phase(rec.PhaseCode),
		Creator:         rec.Creator,
		Opponent:        rec.Opponent,
		HasOpponent:     rec.HasOpponent(),
		BetToken:        rec.BetToken,
		BetAmount:       rec.BetAmount,
		IsNFT:           rec.IsNFT,
		NFTTokenID:      rec.NFTTokenID,
		CreatorHorses:   domain.Roster(rec.CreatorHorses).Clone(),
		OpponentHorses:  domain.Roster(rec.OpponentHorses).Clone(),
		AvailableHorses: domain.AvailableHorses(domain.Roster(rec.CreatorHorses), domain.Roster(rec.OpponentHorses)),
		FirstPicker:     rec.FirstPicker,
		CurrentPicker:   in.Picker,
		Winners:         rec.Winners,
		ObservedAt:      in.Now,
	}

	switch in.Self {
	case rec.Creator:
		v.Role = domain.RoleCreator
	case rec.Opponent:
		v.Role = domain.RoleOpponent
	default:
		v.Role = domain.RoleObserver
	}
	if v.Role == domain.RoleOpponent {
		v.MyHorses = v.OpponentHorses
		v.TheirHorses = v.CreatorHorses
	} else {
		// Observers get the creator's perspective.
		v.MyHorses = v.CreatorHorses
		v.TheirHorses = v.OpponentHorses
	}
	v.IsFirstPicker = v.Role != domain.RoleObserver && in.Self == rec.FirstPicker
	v.IsMyTurn = v.Phase == domain.PhaseDrafting &&
		v.Role != domain.RoleObserver &&
		in.Picker == in.Self
	v.TicketsRemainingThisTurn = domain.PickQuota(len(v.MyHorses))

	// A freshly created match can read back with createdAt still zero.
	// That means "not yet observable": the timer shows the full window
	// and is flagged as not yet meaningful. It must never show zero and
	// fire a spurious expiry.
	windowSecs := int64(in.LobbyWindow / time.Second)
	if rec.CreatedAt == 0 {
		v.SecondsRemaining = windowSecs
		v.TimerMeaningful = false
	} else {
		deadline := int64(rec.CreatedAt) + windowSecs
		remaining := deadline - in.Now.Unix()
		if remaining < 0 {
			remaining = 0
		}
		v.SecondsRemaining = remaining
		v.TimerMeaningful = true
	}

	// Same convention for the draft clock: gameStartTime reads as zero
	// until the contract opens the draft, and the window constant can be
	// missing entirely when its startup read failed.
	draftSecs := int64(in.DraftWindow / time.Second)
	if rec.GameStartTime == 0 || draftSecs == 0 {
		v.DraftSecondsRemaining = draftSecs
		v.DraftTimerMeaningful = false
	} else {
		deadline := int64(rec.GameStartTime) + draftSecs
		remaining := deadline - in.Now.Unix()
		if remaining < 0 {
			remaining = 0
		}
		v.DraftSecondsRemaining = remaining
		v.DraftTimerMeaningful = true
	}

	// The podium convention: a zero first element means no result.
	// This conflates an actual horse-0 win with "unset"; kept as-is
	// because the contract offers no separate flag to disambiguate.
	v.HasResult = rec.Winners[0] != 0

	// Both rosters full but the phase still reads Drafting: a divergent
	// read the client tolerates without writing a correction.
	v.StuckAwaitingPhase = v.Phase == domain.PhaseDrafting && v.DraftComplete()

	return v
}
