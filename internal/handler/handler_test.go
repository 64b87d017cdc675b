package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/draft"
	"github.com/pixelponies/pvp/internal/guard"
	"github.com/pixelponies/pvp/internal/infra"
	"github.com/pixelponies/pvp/internal/lifecycle"
	"github.com/pixelponies/pvp/internal/outcome"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/service"
	"github.com/pixelponies/pvp/internal/tracker"
)

var (
	selfAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// fakeChain satisfies every chain-facing interface the gateway's
// components consume.
type fakeChain struct {
	mu          sync.Mutex
	matches     map[domain.MatchID]*chain.MatchRecord
	userIDs     []domain.MatchID
	allowance   *big.Int
	createdID   domain.MatchID
	lastTokenID *big.Int
}

func newFake() *fakeChain {
	return &fakeChain{
		matches:   make(map[domain.MatchID]*chain.MatchRecord),
		allowance: big.NewInt(0),
	}
}

func (f *fakeChain) WalletAddress() common.Address { return selfAddr }

func (f *fakeChain) Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound(id.String())
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeChain) CurrentPicker(ctx context.Context, id domain.MatchID) (common.Address, error) {
	return selfAddr, nil
}

func (f *fakeChain) UserMatches(ctx context.Context, user common.Address) ([]domain.MatchID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MatchID{}, f.userIDs...), nil
}

func (f *fakeChain) EntryFee(ctx context.Context) (*big.Int, error) { return big.NewInt(1000), nil }

func (f *fakeChain) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000), nil
}

func (f *fakeChain) SubmitApprove(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance = new(big.Int).Set(amount)
	return common.HexToHash("0xa1"), nil
}

func (f *fakeChain) SubmitCreateMatch(ctx context.Context, token common.Address, amount *big.Int, isNFT bool, tokenID, entryFee *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTokenID = tokenID
	f.matches[f.createdID] = &chain.MatchRecord{
		Creator: selfAddr, BetToken: token, BetAmount: amount, IsNFT: isNFT,
		PhaseCode: uint8(domain.PhasePending),
		CreatedAt: uint64(time.Now().Unix()),
	}
	f.userIDs = append(f.userIDs, f.createdID)
	return common.HexToHash("0xc1"), nil
}

func (f *fakeChain) SubmitJoinMatch(ctx context.Context, id domain.MatchID, tokenID, entryFee *big.Int) (common.Hash, error) {
	return common.HexToHash("0xd1"), nil
}

func (f *fakeChain) SubmitSelectHorses(ctx context.Context, id domain.MatchID, horses []uint8) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.matches[id]; ok {
		rec.CreatorHorses = append(rec.CreatorHorses, horses...)
	}
	return common.HexToHash("0xe1"), nil
}

func (f *fakeChain) SubmitExecuteRace(ctx context.Context, id domain.MatchID) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.matches[id]; ok {
		rec.Winners = [3]uint8{3, 11, 7}
		rec.PhaseCode = uint8(domain.PhaseResolved)
	}
	return common.HexToHash("0xf1"), nil
}

func (f *fakeChain) SubmitClaimWinnings(ctx context.Context, id domain.MatchID) (common.Hash, error) {
	return common.HexToHash("0x91"), nil
}

func (f *fakeChain) AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	if hash == common.HexToHash("0xc1") {
		f.mu.Lock()
		receipt.Logs = []*types.Log{{
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("MatchCreated(bytes32,address,address,uint256,bool)")),
				common.Hash(f.createdID),
				common.Hash{},
			},
		}}
		f.mu.Unlock()
	}
	return receipt, nil
}

func (f *fakeChain) SubscribeMatchLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions unsupported")
}

func newTestServer(t *testing.T, fc *fakeChain) (*httptest.Server, *projection.ViewCache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	views := projection.NewViewCache()
	buffer := draft.NewBuffer()
	inflight := guard.NewInflight()
	tr := tracker.New(inflight, tracker.Config{SettleAttempts: 5, SettleInterval: time.Millisecond}, logger)
	hub := infra.NewWSHub(logger)

	pf, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pf.Close() })

	svcCfg := service.Config{ReceiptAttempts: 3, ReceiptInterval: time.Millisecond}
	matches := service.NewMatches(fc, tr, pf, svcCfg, logger)
	controller := lifecycle.New(fc, tr, views, buffer, hub.PublishEvent, lifecycle.Config{
		PollInterval:      50 * time.Millisecond,
		DraftPollInterval: 50 * time.Millisecond,
		LobbyWindow:       600 * time.Second,
		ReceiptAttempts:   3,
		ReceiptInterval:   time.Millisecond,
	}, logger)
	draftSvc := draft.NewService(fc, tr, views, buffer, pf, logger)
	outcomes := outcome.NewService(fc, views, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := New(Deps{
		Matches:    matches,
		Draft:      draftSvc,
		Controller: controller,
		Outcomes:   outcomes,
		Views:      views,
		Tracker:    tr,
		Prefs:      pf,
		Hub:        hub,
		Logger:     logger,
		BaseCtx:    ctx,
		Wallet:     selfAddr,
		CORSOrigin: "*",
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, views
}

func getJSON(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, dest any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	var body map[string]any
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateMatch_EndToEnd(t *testing.T) {
	fc := newFake()
	fc.createdID = domain.MatchID{0xAA}
	srv, _ := newTestServer(t, fc)

	var body map[string]any
	status := postJSON(t, srv.URL+"/matches",
		`{"token":"0x3333333333333333333333333333333333333333","amount":"2.5","decimals":9}`, &body)

	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, domain.MatchID{0xAA}.String(), body["match_id"])
	tx := body["tx"].(map[string]any)
	assert.Equal(t, string(domain.TxSettled), tx["status"])
}

func TestCreateMatch_NFTTokenIDBeyondInt64(t *testing.T) {
	fc := newFake()
	fc.createdID = domain.MatchID{0xAB}
	srv, _ := newTestServer(t, fc)

	var body map[string]any
	status := postJSON(t, srv.URL+"/matches",
		`{"token":"0x3333333333333333333333333333333333333333","is_nft":true,"token_id":"18446744073709551617"}`, &body)

	require.Equal(t, http.StatusCreated, status)
	want, ok := new(big.Int).SetString("18446744073709551617", 10)
	require.True(t, ok)
	assert.Equal(t, want, fc.lastTokenID)

	status = postJSON(t, srv.URL+"/matches",
		`{"token":"0x3333333333333333333333333333333333333333","is_nft":true,"token_id":"-4"}`, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestCreateMatch_RejectsBadAmount(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	var body map[string]any
	status := postJSON(t, srv.URL+"/matches",
		`{"token":"0x3333333333333333333333333333333333333333","amount":"nope"}`, &body)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestGetMatch_UnknownStartsObserving(t *testing.T) {
	srv, _ := newTestServer(t, newFake())
	id := domain.MatchID{0x01}

	status := getJSON(t, srv.URL+"/matches/"+id.String(), nil)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestGetMatch_ReturnsCachedView(t *testing.T) {
	srv, views := newTestServer(t, newFake())
	id := domain.MatchID{0x01}
	views.Put(domain.MatchView{
		MatchID: id, Phase: domain.PhaseDrafting,
		CreatorHorses: domain.Roster{3, 4},
	})

	var view map[string]any
	status := getJSON(t, srv.URL+"/matches/"+id.String(), &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id.String(), view["match_id"])
	assert.Equal(t, []any{float64(3), float64(4)}, view["creator_horses"])
}

func TestGetMatch_MalformedID(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	var body map[string]any
	status := getJSON(t, srv.URL+"/matches/banana", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestToggleBuffer_FlowToSubmit(t *testing.T) {
	fc := newFake()
	id := domain.MatchID{0x01}
	fc.matches[id] = &chain.MatchRecord{
		Creator: selfAddr, BetToken: tokenAddr, BetAmount: big.NewInt(500),
		PhaseCode: uint8(domain.PhaseDrafting),
	}
	srv, views := newTestServer(t, fc)
	views.Put(domain.MatchView{
		MatchID: id, Phase: domain.PhaseDrafting,
		Role: domain.RoleCreator, IsMyTurn: true,
		AvailableHorses:          domain.Roster{2, 3, 4, 5, 6},
		TicketsRemainingThisTurn: 4,
	})

	base := srv.URL + "/matches/" + id.String()
	var sel map[string]any
	for _, h := range []int{2, 3, 4, 5} {
		status := postJSON(t, base+"/picks/buffer", `{"horse":`+string(rune('0'+h))+`}`, &sel)
		require.Equal(t, http.StatusOK, status)
	}
	assert.Len(t, sel["selected"], 4)

	var res map[string]any
	status := postJSON(t, base+"/picks", "", &res)
	require.Equal(t, http.StatusOK, status)
	tx := res["tx"].(map[string]any)
	assert.Equal(t, string(domain.TxSettled), tx["status"])
}

func TestPrefs_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/prefs", strings.NewReader(`{"turbo":true,"last_horses":[3,4,5,6]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var body map[string]any
	status := getJSON(t, srv.URL+"/prefs", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["turbo"])
	assert.Equal(t, []any{float64(3), float64(4), float64(5), float64(6)}, body["last_horses"])
}

func TestOutcome_NotRunYet(t *testing.T) {
	fc := newFake()
	id := domain.MatchID{0x01}
	fc.matches[id] = &chain.MatchRecord{
		Creator: selfAddr, BetAmount: big.NewInt(500),
		PhaseCode: uint8(domain.PhaseDrafting),
	}
	srv, _ := newTestServer(t, fc)

	var body map[string]any
	status := getJSON(t, srv.URL+"/matches/"+id.String()+"/outcome", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RACE_NOT_RUN", body["code"])
}

func TestInvite_RequiresParameter(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	var body map[string]any
	status := getJSON(t, srv.URL+"/invite", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInvite_ReturnsJoinPrecheck(t *testing.T) {
	fc := newFake()
	open := domain.MatchID{0x01}
	own := domain.MatchID{0x02}
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	fc.matches[open] = &chain.MatchRecord{
		Creator: other, BetToken: tokenAddr, BetAmount: big.NewInt(500),
		PhaseCode: uint8(domain.PhasePending),
	}
	fc.matches[own] = &chain.MatchRecord{Creator: selfAddr, PhaseCode: uint8(domain.PhasePending)}
	srv, _ := newTestServer(t, fc)

	var body map[string]any
	status := getJSON(t, srv.URL+"/invite?match="+open.String(), &body)
	require.Equal(t, http.StatusOK, status)
	join := body["join"].(map[string]any)
	assert.Equal(t, true, join["can_join"])

	status = getJSON(t, srv.URL+"/invite?match="+own.String(), &body)
	require.Equal(t, http.StatusOK, status)
	join = body["join"].(map[string]any)
	assert.Equal(t, false, join["can_join"])
	assert.Equal(t, "cannot join your own match", join["reason"])
}

func TestInvite_UnknownMatchStartsObserving(t *testing.T) {
	srv, _ := newTestServer(t, newFake())

	var body map[string]any
	status := getJSON(t, srv.URL+"/invite?match="+domain.MatchID{0x0F}.String(), &body)
	assert.Equal(t, http.StatusAccepted, status)
}
