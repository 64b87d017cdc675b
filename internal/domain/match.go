package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Game-wide constants fixed by the contract.
const (
	HorseCount      = 16 // horses in the shared pool, indices 0..15
	RosterSize      = 8  // horses each participant drafts in total
	MaxPicksPerTurn = 4  // drafting proceeds in blocks of up to 4
)

// MatchID is the contract's content-addressed match handle (bytes32).
// It is opaque: never a counter, never ordered.
type MatchID [32]byte

// ParseMatchID parses a 0x-prefixed 64-hex-digit match id.
func ParseMatchID(s string) (MatchID, error) {
	var id MatchID
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return id, ErrValidation(fmt.Sprintf("match id must be 32 bytes of hex, got %d chars", len(s)))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrValidation("match id is not valid hex")
	}
	copy(id[:], b)
	return id, nil
}

func (id MatchID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MarshalJSON renders the id as its 0x-prefixed hex string.
func (id MatchID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *MatchID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMatchID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsZero reports whether the id is the all-zero handle.
func (id MatchID) IsZero() bool {
	return id == MatchID{}
}

// Phase is the coarse lifecycle state of a match. Phases advance forward
// only; Cancelled is reachable from Pending via the client-observed
// lobby timeout.
type Phase uint8

const (
	PhasePending     Phase = iota // created, awaiting opponent
	PhaseJoined                   // opponent staked, drafting not yet observable
	PhaseDrafting                 // alternating horse selection in progress
	PhaseReadyToRace              // all 16 horses assigned, awaiting executeRace
	PhaseResolved                 // winners decided, payouts computed
	PhaseCancelled                // expired in the lobby, terminal
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseJoined:
		return "joined"
	case PhaseDrafting:
		return "drafting"
	case PhaseReadyToRace:
		return "ready_to_race"
	case PhaseResolved:
		return "resolved"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Terminal reports whether no further transitions can occur.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseCancelled
}

// Role is the local participant's relationship to a match.
type Role string

const (
	RoleCreator  Role = "creator"
	RoleOpponent Role = "opponent"
	RoleObserver Role = "observer"
)

// Roster is the ordered set of horse indices drafted by one participant.
// It grows monotonically and never exceeds RosterSize.
type Roster []uint8

// Contains reports whether the roster holds the given horse index.
func (r Roster) Contains(horse uint8) bool {
	for _, h := range r {
		if h == horse {
			return true
		}
	}
	return false
}

// MarshalJSON renders the roster as a number array. Without this a
// []uint8-backed type serializes as base64.
func (r Roster) MarshalJSON() ([]byte, error) {
	out := make([]int, len(r))
	for i, h := range r {
		out[i] = int(h)
	}
	return json.Marshal(out)
}

func (r *Roster) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Roster, len(raw))
	for i, h := range raw {
		if h < 0 || h >= HorseCount {
			return fmt.Errorf("horse index %d out of range", h)
		}
		out[i] = uint8(h)
	}
	*r = out
	return nil
}

// Clone returns an independent copy.
func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	out := make(Roster, len(r))
	copy(out, r)
	return out
}

// PickQuota returns how many horses a participant with the given roster
// size must submit on their next turn: blocks of 4, with a smaller final
// block if fewer than 4 slots remain.
func PickQuota(rosterSize int) int {
	remaining := RosterSize - rosterSize
	if remaining <= 0 {
		return 0
	}
	if remaining > MaxPicksPerTurn {
		return MaxPicksPerTurn
	}
	return remaining
}

// AvailableHorses returns the complement of both rosters within 0..15,
// in ascending order.
func AvailableHorses(creator, opponent Roster) []uint8 {
	out := make([]uint8, 0, HorseCount)
	for h := uint8(0); h < HorseCount; h++ {
		if !creator.Contains(h) && !opponent.Contains(h) {
			out = append(out, h)
		}
	}
	return out
}

// RostersValid checks the roster invariants: disjoint, each bounded at
// RosterSize, together never exceeding HorseCount, all indices in range.
func RostersValid(creator, opponent Roster) bool {
	if len(creator) > RosterSize || len(opponent) > RosterSize {
		return false
	}
	if len(creator)+len(opponent) > HorseCount {
		return false
	}
	seen := [HorseCount]bool{}
	for _, r := range []Roster{creator, opponent} {
		for _, h := range r {
			if h >= HorseCount || seen[h] {
				return false
			}
			seen[h] = true
		}
	}
	return true
}

// ZeroAddress is the contract's "absent participant" sentinel. Address
// comparison is byte-wise everywhere: common.HexToAddress normalizes the
// mixed checksum casings the contract and wallets disagree on.
var ZeroAddress common.Address
