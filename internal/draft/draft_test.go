package draft

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/guard"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/tracker"
)

func draftingView(id domain.MatchID) domain.MatchView {
	return domain.MatchView{
		MatchID:                  id,
		Phase:                    domain.PhaseDrafting,
		Role:                     domain.RoleCreator,
		IsMyTurn:                 true,
		CreatorHorses:            domain.Roster{},
		OpponentHorses:           domain.Roster{0, 1},
		AvailableHorses:          []uint8{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		TicketsRemainingThisTurn: 4,
	}
}

func TestValidate_OrderTurnThenTakenThenCount(t *testing.T) {
	view := draftingView(domain.MatchID{1})

	// Off-turn beats everything else, even with a taken horse and a
	// wrong count in the same request.
	offTurn := view
	offTurn.IsMyTurn = false
	err := Validate(offTurn, []uint8{0, 2})
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_YOUR_TURN", appErr.Code)

	// Taken beats wrong count.
	err = Validate(view, []uint8{0, 2})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "HORSE_TAKEN", appErr.Code)

	// Count checked last.
	err = Validate(view, []uint8{2, 3})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WRONG_PICK_COUNT", appErr.Code)

	assert.NoError(t, Validate(view, []uint8{2, 3, 4, 5}))
}

func TestValidate_RejectsDuplicatesAndRange(t *testing.T) {
	view := draftingView(domain.MatchID{1})

	var appErr *domain.AppError
	require.ErrorAs(t, Validate(view, []uint8{2, 2, 3, 4}), &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)

	require.ErrorAs(t, Validate(view, []uint8{2, 3, 4, 16}), &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestBuffer_ToggleInAndOut(t *testing.T) {
	b := NewBuffer()
	view := draftingView(domain.MatchID{1})

	sel, err := b.Toggle(view, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint8{5}, sel)

	sel, err = b.Toggle(view, 5)
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestBuffer_RejectsTakenAndOverQuota(t *testing.T) {
	b := NewBuffer()
	view := draftingView(domain.MatchID{1})

	_, err := b.Toggle(view, 0)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "HORSE_TAKEN", appErr.Code)

	for _, h := range []uint8{2, 3, 4, 5} {
		_, err = b.Toggle(view, h)
		require.NoError(t, err)
	}
	_, err = b.Toggle(view, 6)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestBuffer_AutoFillTakesHighestAvailable(t *testing.T) {
	b := NewBuffer()
	view := draftingView(domain.MatchID{1})

	_, err := b.Toggle(view, 2)
	require.NoError(t, err)

	sel := b.AutoFill(view)
	assert.Equal(t, []uint8{2, 15, 14, 13}, sel)
	assert.NoError(t, Validate(view, sel))
}

func TestBuffer_AutoFillFinalShortTurn(t *testing.T) {
	b := NewBuffer()
	view := draftingView(domain.MatchID{1})
	view.CreatorHorses = domain.Roster{2, 3, 4, 5, 6}
	view.AvailableHorses = []uint8{7, 8, 9}
	view.TicketsRemainingThisTurn = 3

	sel := b.AutoFill(view)
	assert.Equal(t, []uint8{9, 8, 7}, sel)
}

// fakeChain settles picks after a configurable number of reads.
type fakeChain struct {
	submitted    [][]uint8
	settleAfter  int
	settleChecks int
	record       *chain.MatchRecord
}

func (f *fakeChain) SubmitSelectHorses(ctx context.Context, id domain.MatchID, horses []uint8) (common.Hash, error) {
	f.submitted = append(f.submitted, horses)
	return common.HexToHash("0xabc"), nil
}

func (f *fakeChain) AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeChain) Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error) {
	f.settleChecks++
	rec := *f.record
	if f.settleChecks >= f.settleAfter {
		rec.CreatorHorses = []uint8{2, 3, 4, 5}
	}
	return &rec, nil
}

func newTestService(fc *fakeChain, pf *prefs.Store) (*Service, *projection.ViewCache) {
	views := projection.NewViewCache()
	tr := tracker.New(guard.NewInflight(), tracker.Config{SettleAttempts: 5, SettleInterval: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewService(fc, tr, views, NewBuffer(), pf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, views
}

func TestService_SubmitPicksSettlesAndClearsBuffer(t *testing.T) {
	id := domain.MatchID{1}
	fc := &fakeChain{settleAfter: 2, record: &chain.MatchRecord{
		Creator: common.HexToAddress("0x11"), CreatorHorses: []uint8{}, OpponentHorses: []uint8{0, 1},
	}}
	svc, views := newTestService(fc, nil)
	view := draftingView(id)
	views.Put(view)
	for _, h := range []uint8{2, 3, 4, 5} {
		_, err := svc.Buffer().Toggle(view, h)
		require.NoError(t, err)
	}

	tx, err := svc.SubmitBuffered(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSettled, tx.Status)
	assert.Equal(t, [][]uint8{{2, 3, 4, 5}}, fc.submitted)
	assert.Empty(t, svc.Buffer().Selected(id))
}

func TestService_RemembersSettledRoster(t *testing.T) {
	id := domain.MatchID{1}
	fc := &fakeChain{settleAfter: 1, record: &chain.MatchRecord{
		Creator: common.HexToAddress("0x11"), CreatorHorses: []uint8{}, OpponentHorses: []uint8{0, 1},
	}}
	pf, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	defer pf.Close()
	svc, views := newTestService(fc, pf)
	views.Put(draftingView(id))

	_, err = svc.SubmitPicks(context.Background(), id, []uint8{2, 3, 4, 5})
	require.NoError(t, err)

	horses, ok, err := pf.LastHorses()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint8{2, 3, 4, 5}, horses)
}

func TestService_RejectsBeforeSubmitting(t *testing.T) {
	id := domain.MatchID{1}
	fc := &fakeChain{settleAfter: 1, record: &chain.MatchRecord{}}
	svc, views := newTestService(fc, nil)
	view := draftingView(id)
	view.IsMyTurn = false
	views.Put(view)

	_, err := svc.SubmitPicks(context.Background(), id, []uint8{2, 3, 4, 5})
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_YOUR_TURN", appErr.Code)
	assert.Empty(t, fc.submitted)
}

func TestService_UnknownMatch(t *testing.T) {
	fc := &fakeChain{}
	svc, _ := newTestService(fc, nil)

	_, err := svc.SubmitPicks(context.Background(), domain.MatchID{9}, []uint8{2, 3, 4, 5})
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "MATCH_NOT_FOUND", appErr.Code)
}
