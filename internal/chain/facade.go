package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/guard"
)

// Backend is the slice of the node client the facade uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

const (
	readAttempts = 3
	readBackoff  = 500 * time.Millisecond

	circuitRead   = "rpc:read"
	circuitSubmit = "rpc:submit"
)

// Facade wraps reads, transaction submission, receipt polling and log
// subscription against the game contract. Reads are idempotent; writes
// are submitted exactly once per call, and deduplication of logical
// intents is the caller's job.
type Facade struct {
	backend  Backend
	wallet   Wallet
	contract common.Address
	chainID  *big.Int
	breaker  *guard.CircuitBreaker
	logger   *slog.Logger
}

// New creates a facade bound to one game contract on one chain.
func New(backend Backend, wallet Wallet, contract common.Address, chainID *big.Int, logger *slog.Logger) *Facade {
	return &Facade{
		backend:  backend,
		wallet:   wallet,
		contract: contract,
		chainID:  chainID,
		breaker:  guard.NewCircuitBreaker(5, 15*time.Second),
		logger:   logger,
	}
}

// WalletAddress returns the local signing identity.
func (f *Facade) WalletAddress() common.Address {
	return f.wallet.Address()
}

// ContractAddress returns the game contract address.
func (f *Facade) ContractAddress() common.Address {
	return f.contract
}

// call packs, executes and unpacks one read. Transient failures are
// retried with fixed backoff inside the facade; only an exhausted
// budget surfaces.
func (f *Facade) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, domain.ErrInternal(fmt.Sprintf("pack %s", method), err)
	}

	if res := f.breaker.Check(circuitRead); !res.Allowed {
		return nil, domain.ErrUnavailable(res.Reason, nil)
	}

	msg := ethereum.CallMsg{To: &to, Data: input}
	var out []byte
	var callErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(readBackoff):
			}
		}
		out, callErr = f.backend.CallContract(ctx, msg, nil)
		if callErr == nil {
			break
		}
		if reason, ok := RevertReason(callErr); ok {
			f.breaker.RecordSuccess(circuitRead) // the node answered
			return nil, domain.ErrActionReverted(reason, callErr)
		}
		f.logger.Warn("read failed", "method", method, "attempt", attempt+1, "error", callErr)
	}
	if callErr != nil {
		f.breaker.RecordFailure(circuitRead)
		return nil, domain.ErrUnavailable(fmt.Sprintf("%s read failed after %d attempts", method, readAttempts), callErr)
	}
	f.breaker.RecordSuccess(circuitRead)

	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, domain.ErrInternal(fmt.Sprintf("unpack %s", method), err)
	}
	return vals, nil
}

// Match reads and decodes the full match tuple.
func (f *Facade) Match(ctx context.Context, id domain.MatchID) (*MatchRecord, error) {
	vals, err := f.call(ctx, f.contract, gameABI, "getMatch", [32]byte(id))
	if err != nil {
		return nil, err
	}
	rec, err := decodeMatchRecord(vals)
	if err != nil {
		return nil, domain.ErrInternal("decode match", err)
	}
	if rec.Creator == domain.ZeroAddress {
		return nil, domain.ErrMatchNotFound(id.String())
	}
	return rec, nil
}

// CurrentPicker reads whose turn the contract says it is.
func (f *Facade) CurrentPicker(ctx context.Context, id domain.MatchID) (common.Address, error) {
	vals, err := f.call(ctx, f.contract, gameABI, "getCurrentPicker", [32]byte(id))
	if err != nil {
		return common.Address{}, err
	}
	picker, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, domain.ErrInternal("decode current picker", fmt.Errorf("got %T", vals[0]))
	}
	return picker, nil
}

// UserMatches lists the match ids an address participates in.
func (f *Facade) UserMatches(ctx context.Context, user common.Address) ([]domain.MatchID, error) {
	vals, err := f.call(ctx, f.contract, gameABI, "getUserMatches", user)
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].([][32]byte)
	if !ok {
		return nil, domain.ErrInternal("decode user matches", fmt.Errorf("got %T", vals[0]))
	}
	ids := make([]domain.MatchID, len(raw))
	for i, b := range raw {
		ids[i] = domain.MatchID(b)
	}
	return ids, nil
}

// EntryFee reads the native-coin fee attached to create and join.
func (f *Facade) EntryFee(ctx context.Context) (*big.Int, error) {
	vals, err := f.call(ctx, f.contract, gameABI, "entryFee")
	if err != nil {
		return nil, err
	}
	fee, ok := vals[0].(*big.Int)
	if !ok {
		return nil, domain.ErrInternal("decode entry fee", fmt.Errorf("got %T", vals[0]))
	}
	return fee, nil
}

// TotalGameTime reads the contract's draft clock, in seconds.
func (f *Facade) TotalGameTime(ctx context.Context) (uint64, error) {
	vals, err := f.call(ctx, f.contract, gameABI, "TOTAL_GAME_TIME")
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return 0, domain.ErrInternal("decode game time", fmt.Errorf("got %T", vals[0]))
	}
	return v.Uint64(), nil
}

// Allowance reads how much of token the game contract may pull from owner.
func (f *Facade) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := f.call(ctx, token, tokenABI, "allowance", owner, f.contract)
	if err != nil {
		return nil, err
	}
	allowance, ok := vals[0].(*big.Int)
	if !ok {
		return nil, domain.ErrInternal("decode allowance", fmt.Errorf("got %T", vals[0]))
	}
	return allowance, nil
}

// TokenBalance reads the owner's balance of an ERC20 token.
func (f *Facade) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := f.call(ctx, token, tokenABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, domain.ErrInternal("decode balance", fmt.Errorf("got %T", vals[0]))
	}
	return bal, nil
}

// submit signs and broadcasts one transaction. Exactly one send per
// call; the inflight guard upstream prevents duplicate logical intents.
func (f *Facade) submit(ctx context.Context, to common.Address, value *big.Int, input []byte) (common.Hash, error) {
	from := f.wallet.Address()

	nonce, err := f.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, domain.ErrUnavailable("fetch nonce", err)
	}
	gasPrice, err := f.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, domain.ErrUnavailable("suggest gas price", err)
	}
	gas, err := f.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: input})
	if err != nil {
		// Estimation runs the call; a revert here is the contract
		// refusing the action, not an I/O fault.
		return common.Hash{}, classifySubmitErr(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     input,
	})

	signed, err := f.wallet.SignTx(ctx, tx, f.chainID)
	if err != nil {
		return common.Hash{}, classifySubmitErr(err)
	}
	if err := f.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifySubmitErr(err)
	}

	hash := signed.Hash()
	f.logger.Info("transaction submitted", "hash", hash, "to", to, "nonce", nonce)
	return hash, nil
}

func (f *Facade) submitGame(ctx context.Context, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	input, err := gameABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, domain.ErrInternal(fmt.Sprintf("pack %s", method), err)
	}
	return f.submit(ctx, f.contract, value, input)
}

// SubmitApprove grants the game contract an ERC20 allowance.
func (f *Facade) SubmitApprove(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	input, err := tokenABI.Pack("approve", f.contract, amount)
	if err != nil {
		return common.Hash{}, domain.ErrInternal("pack approve", err)
	}
	return f.submit(ctx, token, nil, input)
}

// SubmitCreateMatch opens a match. entryFee rides along as tx value.
func (f *Facade) SubmitCreateMatch(ctx context.Context, token common.Address, amount *big.Int, isNFT bool, tokenID, entryFee *big.Int) (common.Hash, error) {
	return f.submitGame(ctx, entryFee, "createMatch", token, amount, isNFT, tokenID)
}

// SubmitJoinMatch stakes into an existing match.
func (f *Facade) SubmitJoinMatch(ctx context.Context, id domain.MatchID, tokenID, entryFee *big.Int) (common.Hash, error) {
	return f.submitGame(ctx, entryFee, "joinMatch", [32]byte(id), tokenID)
}

// SubmitSelectHorses submits one draft turn.
func (f *Facade) SubmitSelectHorses(ctx context.Context, id domain.MatchID, horses []uint8) (common.Hash, error) {
	return f.submitGame(ctx, nil, "selectHorses", [32]byte(id), horses)
}

// SubmitExecuteRace triggers race resolution.
func (f *Facade) SubmitExecuteRace(ctx context.Context, id domain.MatchID) (common.Hash, error) {
	return f.submitGame(ctx, nil, "executeRace", [32]byte(id))
}

// SubmitClaimWinnings claims the caller's payout.
func (f *Facade) SubmitClaimWinnings(ctx context.Context, id domain.MatchID) (common.Hash, error) {
	return f.submitGame(ctx, nil, "claimWinnings", [32]byte(id))
}

// AwaitReceipt polls for a receipt with a bounded budget. One
// confirmation is sufficient; there is no block-depth requirement.
// A mined-but-reverted transaction surfaces as ACTION_REVERTED.
func (f *Facade) AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
		receipt, err := f.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			f.logger.Warn("receipt poll failed", "hash", hash, "attempt", attempt+1, "error", err)
			continue
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, domain.ErrActionReverted("", fmt.Errorf("transaction %s reverted on-chain", hash))
		}
		return receipt, nil
	}
	return nil, domain.ErrUnavailable(fmt.Sprintf("no receipt for %s after %d attempts", hash, maxAttempts), nil)
}

// SubscribeMatchLogs pushes every game contract log into sink. Works
// only against a subscription-capable endpoint; callers fall back to
// polling when this errors. Duplicate delivery is possible and the
// consumer must be idempotent to it.
func (f *Facade) SubscribeMatchLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error) {
	q := ethereum.FilterQuery{Addresses: []common.Address{f.contract}}
	sub, err := f.backend.SubscribeFilterLogs(ctx, q, sink)
	if err != nil {
		return nil, fmt.Errorf("subscribe contract logs: %w", err)
	}
	return sub, nil
}
