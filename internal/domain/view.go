package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MatchView is the client-local projection of one match plus wall-clock
// context. It is rebuilt on every poll or event tick, owned exclusively
// by the lifecycle controller, and handed to everything else by value.
type MatchView struct {
	MatchID     MatchID        `json:"match_id"`
	Phase       Phase          `json:"phase"`
	Creator     common.Address `json:"creator"`
	Opponent    common.Address `json:"opponent"`
	HasOpponent bool           `json:"has_opponent"`

	BetToken   common.Address `json:"bet_token"`
	BetAmount  *big.Int       `json:"bet_amount"`
	IsNFT      bool           `json:"is_nft"`
	NFTTokenID *big.Int       `json:"nft_token_id,omitempty"`

	CreatorHorses   Roster `json:"creator_horses"`
	OpponentHorses  Roster `json:"opponent_horses"`
	AvailableHorses Roster `json:"available_horses"`

	FirstPicker   common.Address `json:"first_picker"`
	CurrentPicker common.Address `json:"current_picker"`

	// Local-participant derivations.
	Role          Role   `json:"role"`
	MyHorses      Roster `json:"my_horses"`
	TheirHorses   Roster `json:"their_horses"`
	IsMyTurn      bool   `json:"is_my_turn"`
	IsFirstPicker bool   `json:"is_first_picker"`
	// TicketsRemainingThisTurn is min(4, 8 - |MyHorses|); the exact
	// count a pick submission must carry.
	TicketsRemainingThisTurn int `json:"tickets_remaining_this_turn"`

	// Timer. TimerMeaningful is false while createdAt still reads as
	// zero on-chain; SecondsRemaining then holds the full window.
	SecondsRemaining int64 `json:"seconds_remaining"`
	TimerMeaningful  bool  `json:"timer_meaningful"`

	// Draft clock, counted from the contract's gameStartTime against
	// the TOTAL_GAME_TIME constant. Follows the same convention: not
	// meaningful until a start time is observable on-chain.
	DraftSecondsRemaining int64 `json:"draft_seconds_remaining"`
	DraftTimerMeaningful  bool  `json:"draft_timer_meaningful"`

	// Winners is the ordered podium. HasResult follows the contract's
	// convention that a zero first element means "unset", which
	// conflates a legal horse-0 win with "no result yet". Preserved as
	// observed; see DESIGN.md.
	Winners   [3]uint8 `json:"winners"`
	HasResult bool     `json:"has_result"`

	// StuckAwaitingPhase is set when both rosters are full but the
	// contract still reports Drafting. The client tolerates this and
	// offers a manual refresh; it never writes a correction.
	StuckAwaitingPhase bool `json:"stuck_awaiting_phase"`

	ObservedAt time.Time `json:"observed_at"`
}

// RosterFor returns the roster belonging to the given role.
func (v *MatchView) RosterFor(role Role) Roster {
	if role == RoleOpponent {
		return v.OpponentHorses
	}
	return v.CreatorHorses
}

// DraftComplete reports whether both rosters are full.
func (v *MatchView) DraftComplete() bool {
	return len(v.CreatorHorses) == RosterSize && len(v.OpponentHorses) == RosterSize
}
