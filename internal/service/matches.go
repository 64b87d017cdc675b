package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/tracker"
)

// ChainClient is the slice of the chain facade the match service uses.
type ChainClient interface {
	WalletAddress() common.Address
	Match(ctx context.Context, id domain.MatchID) (*chain.MatchRecord, error)
	UserMatches(ctx context.Context, user common.Address) ([]domain.MatchID, error)
	EntryFee(ctx context.Context) (*big.Int, error)
	Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	SubmitApprove(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
	SubmitCreateMatch(ctx context.Context, token common.Address, amount *big.Int, isNFT bool, tokenID, entryFee *big.Int) (common.Hash, error)
	SubmitJoinMatch(ctx context.Context, id domain.MatchID, tokenID, entryFee *big.Int) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, maxAttempts int, interval time.Duration) (*types.Receipt, error)
}

// Config bounds the service's receipt polling.
type Config struct {
	ReceiptAttempts int
	ReceiptInterval time.Duration
}

// Matches drives match creation and joining, including the ERC20
// approval dance that precedes any fungible stake.
type Matches struct {
	chain   ChainClient
	tracker *tracker.Tracker
	prefs   *prefs.Store
	cfg     Config
	logger  *slog.Logger
}

// NewMatches wires the match service. prefs may be nil; stake memory is
// then simply not kept.
func NewMatches(cc ChainClient, tr *tracker.Tracker, pf *prefs.Store, cfg Config, logger *slog.Logger) *Matches {
	if cfg.ReceiptAttempts <= 0 {
		cfg = Config{ReceiptAttempts: 30, ReceiptInterval: 500 * time.Millisecond}
	}
	return &Matches{chain: cc, tracker: tr, prefs: pf, cfg: cfg, logger: logger}
}

// CreateRequest is a validated match creation intent.
type CreateRequest struct {
	Token   common.Address
	Amount  *big.Int
	IsNFT   bool
	TokenID *big.Int
}

func (r *CreateRequest) validate() error {
	if r.Token == domain.ZeroAddress {
		return domain.ErrValidation("bet token is required")
	}
	if r.IsNFT {
		if r.TokenID == nil {
			return domain.ErrValidation("nft token id is required for an nft stake")
		}
	} else if r.Amount == nil || r.Amount.Sign() <= 0 {
		return domain.ErrValidation("bet amount must be positive")
	}
	return nil
}

// Create opens a new match. For a fungible stake the contract's
// allowance is topped up first when short. The new match id is learned
// from the creation receipt's event, with the creator's match list as
// fallback when the event cannot be decoded.
func (m *Matches) Create(ctx context.Context, req CreateRequest) (domain.MatchID, domain.TrackedTransaction, error) {
	if err := req.validate(); err != nil {
		return domain.MatchID{}, domain.TrackedTransaction{}, err
	}
	if req.TokenID == nil {
		req.TokenID = big.NewInt(0)
	}
	if req.Amount == nil {
		req.Amount = big.NewInt(0)
	}

	fee, err := m.chain.EntryFee(ctx)
	if err != nil {
		return domain.MatchID{}, domain.TrackedTransaction{}, err
	}

	// Approvals for a match that does not exist yet are scoped to the
	// zero id; only one creation flow runs at a time anyway.
	if !req.IsNFT {
		if err := m.EnsureAllowance(ctx, domain.MatchID{}, req.Token, req.Amount); err != nil {
			return domain.MatchID{}, domain.TrackedTransaction{}, err
		}
	}

	before, err := m.chain.UserMatches(ctx, m.chain.WalletAddress())
	if err != nil {
		return domain.MatchID{}, domain.TrackedTransaction{}, err
	}

	var newID domain.MatchID
	tx, err := m.tracker.Track(ctx, domain.MatchID{}, domain.TxCreate,
		func(ctx context.Context) (common.Hash, error) {
			return m.chain.SubmitCreateMatch(ctx, req.Token, req.Amount, req.IsNFT, req.TokenID, fee)
		},
		func(ctx context.Context, hash common.Hash) error {
			receipt, err := m.chain.AwaitReceipt(ctx, hash, m.cfg.ReceiptAttempts, m.cfg.ReceiptInterval)
			if err != nil {
				return err
			}
			newID = matchIDFromReceipt(receipt)
			return nil
		},
		func(ctx context.Context) (bool, error) {
			if newID.IsZero() {
				// No decodable creation event; fall back to a match
				// list diff against the pre-submission snapshot.
				after, err := m.chain.UserMatches(ctx, m.chain.WalletAddress())
				if err != nil {
					return false, err
				}
				newID = firstNewID(before, after)
				if newID.IsZero() {
					return false, nil
				}
			}
			_, err := m.chain.Match(ctx, newID)
			return err == nil, nil
		},
	)
	if err != nil {
		return newID, tx, err
	}

	m.logger.Info("match created", "match", newID, "is_nft", req.IsNFT)
	if m.prefs != nil {
		if err := m.prefs.SetLastBet(prefs.LastBet{Token: req.Token, Amount: req.Amount, IsNFT: req.IsNFT}); err != nil {
			m.logger.Warn("persisting stake preference failed", "error", err)
		}
	}
	return newID, tx, nil
}

// joinable reports why self cannot stake into rec, or nil when the
// match is open to them.
func joinable(rec *chain.MatchRecord, self common.Address) error {
	if rec.Creator == self {
		return domain.ErrValidation("cannot join your own match")
	}
	if rec.HasOpponent() {
		return domain.ErrValidation("match already has an opponent")
	}
	if domain.Phase(rec.PhaseCode) != domain.PhasePending {
		return domain.ErrValidation("match is no longer open")
	}
	return nil
}

// JoinCheck is the join-screen precheck behind an invite link: the
// stake on the table and whether the local wallet may take it.
type JoinCheck struct {
	MatchID   domain.MatchID `json:"match_id"`
	Creator   common.Address `json:"creator"`
	Phase     domain.Phase   `json:"phase"`
	PhaseName string         `json:"phase_name"`
	BetToken  common.Address `json:"bet_token"`
	BetAmount *big.Int       `json:"bet_amount"`
	IsNFT     bool           `json:"is_nft"`
	CanJoin   bool           `json:"can_join"`
	Reason    string         `json:"reason,omitempty"`
}

// JoinPrecheck evaluates an invite without submitting anything.
func (m *Matches) JoinPrecheck(ctx context.Context, id domain.MatchID) (JoinCheck, error) {
	rec, err := m.chain.Match(ctx, id)
	if err != nil {
		return JoinCheck{}, err
	}
	chk := JoinCheck{
		MatchID:   id,
		Creator:   rec.Creator,
		Phase:     domain.Phase(rec.PhaseCode),
		PhaseName: domain.Phase(rec.PhaseCode).String(),
		BetToken:  rec.BetToken,
		BetAmount: rec.BetAmount,
		IsNFT:     rec.IsNFT,
	}
	if err := joinable(rec, m.chain.WalletAddress()); err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			chk.Reason = appErr.Message
		} else {
			chk.Reason = err.Error()
		}
	} else {
		chk.CanJoin = true
	}
	return chk, nil
}

// Join stakes into an existing pending match.
func (m *Matches) Join(ctx context.Context, id domain.MatchID, tokenID *big.Int) (domain.TrackedTransaction, error) {
	rec, err := m.chain.Match(ctx, id)
	if err != nil {
		return domain.TrackedTransaction{}, err
	}
	self := m.chain.WalletAddress()
	if err := joinable(rec, self); err != nil {
		return domain.TrackedTransaction{}, err
	}
	if rec.IsNFT {
		if tokenID == nil {
			return domain.TrackedTransaction{}, domain.ErrValidation("nft token id is required to join this match")
		}
	} else {
		if err := m.EnsureAllowance(ctx, id, rec.BetToken, rec.BetAmount); err != nil {
			return domain.TrackedTransaction{}, err
		}
	}
	if tokenID == nil {
		tokenID = big.NewInt(0)
	}

	fee, err := m.chain.EntryFee(ctx)
	if err != nil {
		return domain.TrackedTransaction{}, err
	}

	return m.tracker.Track(ctx, id, domain.TxJoin,
		func(ctx context.Context) (common.Hash, error) {
			return m.chain.SubmitJoinMatch(ctx, id, tokenID, fee)
		},
		m.awaitReceipt,
		func(ctx context.Context) (bool, error) {
			rec, err := m.chain.Match(ctx, id)
			if err != nil {
				return false, err
			}
			return rec.Opponent == self, nil
		},
	)
}

// EnsureAllowance tops up the game contract's ERC20 allowance when the
// current one cannot cover amount. Settlement is the allowance read
// catching up, which lags the approval receipt under load.
func (m *Matches) EnsureAllowance(ctx context.Context, id domain.MatchID, token common.Address, amount *big.Int) error {
	owner := m.chain.WalletAddress()
	current, err := m.chain.Allowance(ctx, token, owner)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	_, err = m.tracker.Track(ctx, id, domain.TxApprove,
		func(ctx context.Context) (common.Hash, error) {
			return m.chain.SubmitApprove(ctx, token, amount)
		},
		m.awaitReceipt,
		func(ctx context.Context) (bool, error) {
			allowance, err := m.chain.Allowance(ctx, token, owner)
			if err != nil {
				return false, err
			}
			return allowance.Cmp(amount) >= 0, nil
		},
	)
	return err
}

// Summary is one row of the local participant's match list.
type Summary struct {
	MatchID   domain.MatchID `json:"match_id"`
	Phase     domain.Phase   `json:"phase"`
	PhaseName string         `json:"phase_name"`
	Role      domain.Role    `json:"role"`
	IsNFT     bool           `json:"is_nft"`
	BetAmount *big.Int       `json:"bet_amount"`
	HasResult bool           `json:"has_result"`
}

// List returns every match the local wallet participates in. Matches
// that fail to read are skipped rather than failing the whole list; a
// lobby with one bad row beats no lobby.
func (m *Matches) List(ctx context.Context) ([]Summary, error) {
	self := m.chain.WalletAddress()
	ids, err := m.chain.UserMatches(ctx, self)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := m.chain.Match(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unreadable match", "match", id, "error", err)
			continue
		}
		role := domain.RoleCreator
		if rec.Opponent == self {
			role = domain.RoleOpponent
		}
		out = append(out, Summary{
			MatchID:   id,
			Phase:     domain.Phase(rec.PhaseCode),
			PhaseName: domain.Phase(rec.PhaseCode).String(),
			Role:      role,
			IsNFT:     rec.IsNFT,
			BetAmount: rec.BetAmount,
			HasResult: rec.Winners[0] != 0,
		})
	}
	return out, nil
}

// Balance reads the wallet's balance of an ERC20 token.
func (m *Matches) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	return m.chain.TokenBalance(ctx, token, m.chain.WalletAddress())
}

func (m *Matches) awaitReceipt(ctx context.Context, hash common.Hash) error {
	_, err := m.chain.AwaitReceipt(ctx, hash, m.cfg.ReceiptAttempts, m.cfg.ReceiptInterval)
	return err
}

// matchIDFromReceipt scans a creation receipt for the MatchCreated
// event and returns its match id, or the zero id when none decodes.
func matchIDFromReceipt(receipt *types.Receipt) domain.MatchID {
	for _, log := range receipt.Logs {
		if log == nil || chain.EventName(*log) != chain.EvMatchCreated {
			continue
		}
		if id, ok := chain.MatchIDFromLog(*log); ok {
			return id
		}
	}
	return domain.MatchID{}
}

// firstNewID returns the first id present in after but not in before.
func firstNewID(before, after []domain.MatchID) domain.MatchID {
	known := make(map[domain.MatchID]bool, len(before))
	for _, id := range before {
		known[id] = true
	}
	for _, id := range after {
		if !known[id] {
			return id
		}
	}
	return domain.MatchID{}
}
