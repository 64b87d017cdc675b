package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/domain"
)

// MatchRecord is the named, validated form of the contract's positional
// getMatch tuple. Nothing outside this package indexes into raw outputs.
type MatchRecord struct {
	Creator        common.Address
	Opponent       common.Address
	BetToken       common.Address
	BetAmount      *big.Int
	IsNFT          bool
	NFTTokenID     *big.Int
	PhaseCode      uint8
	CreatorHorses  []uint8
	OpponentHorses []uint8
	FirstPicker    common.Address
	// CreatedAt can legitimately read as zero right after creation,
	// before the write settles on the read path. Zero means "not yet
	// observable", never epoch time.
	CreatedAt     uint64
	GameStartTime uint64
	Winners       [3]uint8
}

// HasOpponent reports whether an opponent has staked.
func (r *MatchRecord) HasOpponent() bool {
	return r.Opponent != domain.ZeroAddress
}

func decodeMatchRecord(vals []interface{}) (*MatchRecord, error) {
	if len(vals) != 13 {
		return nil, fmt.Errorf("getMatch returned %d values, want 13", len(vals))
	}
	rec := &MatchRecord{}
	var ok bool
	if rec.Creator, ok = vals[0].(common.Address); !ok {
		return nil, fmt.Errorf("getMatch[0]: creator is %T, want address", vals[0])
	}
	if rec.Opponent, ok = vals[1].(common.Address); !ok {
		return nil, fmt.Errorf("getMatch[1]: opponent is %T, want address", vals[1])
	}
	if rec.BetToken, ok = vals[2].(common.Address); !ok {
		return nil, fmt.Errorf("getMatch[2]: betToken is %T, want address", vals[2])
	}
	if rec.BetAmount, ok = vals[3].(*big.Int); !ok {
		return nil, fmt.Errorf("getMatch[3]: betAmount is %T, want *big.Int", vals[3])
	}
	if rec.IsNFT, ok = vals[4].(bool); !ok {
		return nil, fmt.Errorf("getMatch[4]: isNFT is %T, want bool", vals[4])
	}
	if rec.NFTTokenID, ok = vals[5].(*big.Int); !ok {
		return nil, fmt.Errorf("getMatch[5]: nftTokenId is %T, want *big.Int", vals[5])
	}
	if rec.PhaseCode, ok = vals[6].(uint8); !ok {
		return nil, fmt.Errorf("getMatch[6]: state is %T, want uint8", vals[6])
	}
	if rec.CreatorHorses, ok = vals[7].([]uint8); !ok {
		return nil, fmt.Errorf("getMatch[7]: creatorHorses is %T, want []uint8", vals[7])
	}
	if rec.OpponentHorses, ok = vals[8].([]uint8); !ok {
		return nil, fmt.Errorf("getMatch[8]: opponentHorses is %T, want []uint8", vals[8])
	}
	if rec.FirstPicker, ok = vals[9].(common.Address); !ok {
		return nil, fmt.Errorf("getMatch[9]: firstPicker is %T, want address", vals[9])
	}
	createdAt, ok := vals[10].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getMatch[10]: createdAt is %T, want *big.Int", vals[10])
	}
	rec.CreatedAt = createdAt.Uint64()
	gameStart, ok := vals[11].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getMatch[11]: gameStartTime is %T, want *big.Int", vals[11])
	}
	rec.GameStartTime = gameStart.Uint64()
	if rec.Winners, ok = vals[12].([3]uint8); !ok {
		return nil, fmt.Errorf("getMatch[12]: winners is %T, want [3]uint8", vals[12])
	}

	if !domain.RostersValid(domain.Roster(rec.CreatorHorses), domain.Roster(rec.OpponentHorses)) {
		return nil, fmt.Errorf("getMatch: contract returned invalid rosters %v / %v", rec.CreatorHorses, rec.OpponentHorses)
	}
	return rec, nil
}

// MatchIDFromLog extracts the indexed match id from any game contract
// event. All events index matchId as the first topic argument.
func MatchIDFromLog(log types.Log) (domain.MatchID, bool) {
	if len(log.Topics) < 2 {
		return domain.MatchID{}, false
	}
	return domain.MatchID(log.Topics[1]), true
}

// EventName resolves a log's event by its topic signature. Returns ""
// for logs that are not the game contract's.
func EventName(log types.Log) string {
	if len(log.Topics) == 0 {
		return ""
	}
	for name, ev := range gameABI.Events {
		if ev.ID == log.Topics[0] {
			return name
		}
	}
	return ""
}

// DecodeRaceWinners unpacks the podium from a RaceCompleted log.
func DecodeRaceWinners(log types.Log) ([3]uint8, error) {
	var winners [3]uint8
	if EventName(log) != EvRaceCompleted {
		return winners, fmt.Errorf("log is not a %s event", EvRaceCompleted)
	}
	vals, err := gameABI.Unpack(EvRaceCompleted, log.Data)
	if err != nil {
		return winners, fmt.Errorf("unpack %s: %w", EvRaceCompleted, err)
	}
	if len(vals) != 1 {
		return winners, fmt.Errorf("%s carries %d values, want 1", EvRaceCompleted, len(vals))
	}
	winners, ok := vals[0].([3]uint8)
	if !ok {
		return winners, fmt.Errorf("%s winners is %T, want [3]uint8", EvRaceCompleted, vals[0])
	}
	return winners, nil
}

// DecodeSelectedHorses unpacks the picked horses from a HorseSelected log.
func DecodeSelectedHorses(log types.Log) ([]uint8, error) {
	if EventName(log) != EvHorseSelected {
		return nil, fmt.Errorf("log is not a %s event", EvHorseSelected)
	}
	vals, err := gameABI.Unpack(EvHorseSelected, log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", EvHorseSelected, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s carries %d values, want 1", EvHorseSelected, len(vals))
	}
	horses, ok := vals[0].([]uint8)
	if !ok {
		return nil, fmt.Errorf("%s horses is %T, want []uint8", EvHorseSelected, vals[0])
	}
	return horses, nil
}
