package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelponies/pvp/internal/domain"
)

func TestRevertReason_ExtractsMessage(t *testing.T) {
	err := errors.New("execution reverted: Not your turn")

	reason, ok := RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "Not your turn", reason)
}

func TestRevertReason_WrappedNodeError(t *testing.T) {
	err := errors.New("rpc error: execution reverted: Horse already taken")

	reason, ok := RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "Horse already taken", reason)
}

func TestRevertReason_NoReasonString(t *testing.T) {
	reason, ok := RevertReason(errors.New("execution reverted"))
	require.True(t, ok)
	assert.Equal(t, "", reason)
}

func TestRevertReason_UnrelatedError(t *testing.T) {
	_, ok := RevertReason(errors.New("connection refused"))
	assert.False(t, ok)

	_, ok = RevertReason(nil)
	assert.False(t, ok)
}

func TestClassifySubmitErr(t *testing.T) {
	declined := classifySubmitErr(ErrWalletDeclined)
	assert.Equal(t, "WALLET_REJECTED", declined.Code)

	reverted := classifySubmitErr(errors.New("execution reverted: Match full"))
	assert.Equal(t, "ACTION_REVERTED", reverted.Code)
	assert.Contains(t, reverted.Message, "Match full")

	transient := classifySubmitErr(errors.New("i/o timeout"))
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", transient.Code)
}

func validMatchVals() []interface{} {
	return []interface{}{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		big.NewInt(2_000_000_000),
		false,
		big.NewInt(0),
		uint8(domain.PhaseDrafting),
		[]uint8{3, 4, 5, 6},
		[]uint8{7, 8, 9, 10},
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		big.NewInt(1_700_000_000),
		big.NewInt(0),
		[3]uint8{0, 0, 0},
	}
}

func TestDecodeMatchRecord_Valid(t *testing.T) {
	rec, err := decodeMatchRecord(validMatchVals())
	require.NoError(t, err)

	assert.Equal(t, uint8(domain.PhaseDrafting), rec.PhaseCode)
	assert.Equal(t, []uint8{3, 4, 5, 6}, rec.CreatorHorses)
	assert.Equal(t, uint64(1_700_000_000), rec.CreatedAt)
	assert.True(t, rec.HasOpponent())
}

func TestDecodeMatchRecord_NoOpponentYet(t *testing.T) {
	vals := validMatchVals()
	vals[1] = common.Address{}

	rec, err := decodeMatchRecord(vals)
	require.NoError(t, err)
	assert.False(t, rec.HasOpponent())
}

func TestDecodeMatchRecord_WrongArity(t *testing.T) {
	_, err := decodeMatchRecord(validMatchVals()[:12])
	assert.Error(t, err)
}

func TestDecodeMatchRecord_WrongFieldType(t *testing.T) {
	vals := validMatchVals()
	vals[6] = "drafting"

	_, err := decodeMatchRecord(vals)
	assert.Error(t, err)
}

func TestDecodeMatchRecord_OverlappingRosters(t *testing.T) {
	vals := validMatchVals()
	vals[8] = []uint8{6, 7, 8, 9}

	_, err := decodeMatchRecord(vals)
	assert.Error(t, err)
}

func raceCompletedLog(t *testing.T, id domain.MatchID, winners [3]uint8) types.Log {
	t.Helper()
	data, err := gameABI.Events[EvRaceCompleted].Inputs.NonIndexed().Pack(winners)
	require.NoError(t, err)
	return types.Log{
		Topics: []common.Hash{gameABI.Events[EvRaceCompleted].ID, common.Hash(id)},
		Data:   data,
	}
}

func TestEventName_ResolvesBySignature(t *testing.T) {
	log := raceCompletedLog(t, domain.MatchID{0xAB}, [3]uint8{3, 11, 7})
	assert.Equal(t, EvRaceCompleted, EventName(log))
}

func TestEventName_ForeignLog(t *testing.T) {
	assert.Equal(t, "", EventName(types.Log{}))
	assert.Equal(t, "", EventName(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}))
}

func TestMatchIDFromLog(t *testing.T) {
	id := domain.MatchID{0xAB, 0xCD}
	log := raceCompletedLog(t, id, [3]uint8{3, 11, 7})

	got, ok := MatchIDFromLog(log)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = MatchIDFromLog(types.Log{Topics: []common.Hash{gameABI.Events[EvRaceCompleted].ID}})
	assert.False(t, ok)
}

func TestDecodeRaceWinners(t *testing.T) {
	log := raceCompletedLog(t, domain.MatchID{0x01}, [3]uint8{3, 11, 7})

	winners, err := DecodeRaceWinners(log)
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{3, 11, 7}, winners)
}

func TestDecodeRaceWinners_WrongEvent(t *testing.T) {
	log := types.Log{Topics: []common.Hash{gameABI.Events[EvMatchJoined].ID, {}}}

	_, err := DecodeRaceWinners(log)
	assert.Error(t, err)
}

func TestDecodeSelectedHorses(t *testing.T) {
	data, err := gameABI.Events[EvHorseSelected].Inputs.NonIndexed().Pack([]uint8{1, 2, 3, 4})
	require.NoError(t, err)
	log := types.Log{
		Topics: []common.Hash{
			gameABI.Events[EvHorseSelected].ID,
			common.Hash(domain.MatchID{0x01}),
			common.HexToHash("0x1111111111111111111111111111111111111111"),
		},
		Data: data,
	}

	horses, err := DecodeSelectedHorses(log)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 3, 4}, horses)
}
