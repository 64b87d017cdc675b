package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/draft"
	"github.com/pixelponies/pvp/internal/infra"
	"github.com/pixelponies/pvp/internal/lifecycle"
	"github.com/pixelponies/pvp/internal/outcome"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/service"
	"github.com/pixelponies/pvp/internal/tracker"
)

// Handler is the HTTP gateway in front of the match engine.
type Handler struct {
	matches    *service.Matches
	draft      *draft.Service
	controller *lifecycle.Controller
	outcomes   *outcome.Service
	views      *projection.ViewCache
	tracker    *tracker.Tracker
	prefs      *prefs.Store
	hub        *infra.WSHub
	logger     *slog.Logger

	// baseCtx scopes follow loops started from requests; they must
	// outlive the request that triggered them.
	baseCtx context.Context

	wallet       common.Address
	defaultToken common.Address
	corsOrigin   string
}

// Deps carries everything the gateway needs.
type Deps struct {
	Matches      *service.Matches
	Draft        *draft.Service
	Controller   *lifecycle.Controller
	Outcomes     *outcome.Service
	Views        *projection.ViewCache
	Tracker      *tracker.Tracker
	Prefs        *prefs.Store
	Hub          *infra.WSHub
	Logger       *slog.Logger
	BaseCtx      context.Context
	Wallet       common.Address
	DefaultToken common.Address
	CORSOrigin   string
}

// New creates the gateway handler.
func New(d Deps) *Handler {
	return &Handler{
		matches:      d.Matches,
		draft:        d.Draft,
		controller:   d.Controller,
		outcomes:     d.Outcomes,
		views:        d.Views,
		tracker:      d.Tracker,
		prefs:        d.Prefs,
		hub:          d.Hub,
		logger:       d.Logger,
		baseCtx:      d.BaseCtx,
		wallet:       d.Wallet,
		defaultToken: d.DefaultToken,
		corsOrigin:   d.CORSOrigin,
	}
}

// Router assembles the route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger))
	r.Use(RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(CORS(h.corsOrigin))

	r.Get("/ws/matches/{id}", h.SubscribeMatch)

	r.Group(func(r chi.Router) {
		r.Use(JSONContentType)

		r.Get("/health", h.Health)
		r.Get("/invite", h.Invite)

		r.Get("/prefs", h.GetPrefs)
		r.Put("/prefs", h.PutPrefs)

		r.Route("/matches", func(r chi.Router) {
			r.Get("/", h.ListMatches)
			r.Post("/", h.CreateMatch)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Post("/join", h.JoinMatch)
				r.Post("/refresh", h.RefreshMatch)
				r.Delete("/follow", h.UnfollowMatch)

				r.Get("/picks/buffer", h.GetBuffer)
				r.Post("/picks/buffer", h.ToggleBuffer)
				r.Post("/picks/autofill", h.AutoFillBuffer)
				r.Post("/picks", h.SubmitPicks)

				r.Post("/race", h.ExecuteRace)
				r.Post("/claim", h.ClaimWinnings)
				r.Get("/outcome", h.GetOutcome)

				r.Get("/tx/{kind}", h.GetTransaction)
				r.Delete("/tx/{kind}", h.ResetTransaction)
			})
		})
	})

	return r
}

func (h *Handler) matchID(r *http.Request) (domain.MatchID, error) {
	return domain.ParseMatchID(chi.URLParam(r, "id"))
}

// Health reports daemon liveness and identity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"wallet":    h.wallet,
		"following": len(h.controller.Following()),
		"ws_conns":  h.hub.ConnectionCount(),
	})
}

// ListMatches returns the wallet's match list.
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	list, err := h.matches.List(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"matches": list})
}

type createMatchRequest struct {
	Token string `json:"token"`
	// Amount is a human decimal string, scaled by Decimals.
	Amount   string `json:"amount"`
	Decimals *int   `json:"decimals"`
	IsNFT    bool   `json:"is_nft"`
	// TokenID is a decimal string; nft ids are uint256 on chain and
	// can exceed any machine integer.
	TokenID string `json:"token_id"`
}

// CreateMatch opens a match and starts following it.
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var body createMatchRequest
	if err := DecodeJSON(r, &body); err != nil {
		RespondError(w, err)
		return
	}

	req := service.CreateRequest{Token: h.defaultToken, IsNFT: body.IsNFT}
	if body.Token != "" {
		if !common.IsHexAddress(body.Token) {
			RespondError(w, domain.ErrValidation("token is not a valid address"))
			return
		}
		req.Token = common.HexToAddress(body.Token)
	}
	if body.IsNFT {
		if body.TokenID == "" {
			RespondError(w, domain.ErrValidation("token_id is required for an nft stake"))
			return
		}
		tokenID, err := parseTokenID(body.TokenID)
		if err != nil {
			RespondError(w, err)
			return
		}
		req.TokenID = tokenID
	} else {
		decimals := 18
		if body.Decimals != nil {
			decimals = *body.Decimals
		}
		amount, err := infra.ParseAmount(body.Amount, decimals)
		if err != nil {
			RespondError(w, domain.ErrValidation(err.Error()))
			return
		}
		req.Amount = amount
	}

	id, tx, err := h.matches.Create(r.Context(), req)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Follow(h.baseCtx, id)
	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"match_id": id,
		"tx":       tx,
	})
}

// GetMatch returns the latest projected view. An unknown match starts
// being followed and reports 202 until the first projection lands.
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	if view, ok := h.views.Get(id); ok {
		RespondJSON(w, http.StatusOK, view)
		return
	}
	h.controller.Follow(h.baseCtx, id)
	RespondJSON(w, http.StatusAccepted, map[string]string{
		"status": "observing, retry shortly",
	})
}

type joinMatchRequest struct {
	// TokenID is a decimal string, same convention as match creation.
	TokenID string `json:"token_id"`
}

// JoinMatch stakes into a match and starts following it.
func (h *Handler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var body joinMatchRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &body); err != nil {
			RespondError(w, err)
			return
		}
	}
	var tokenID *big.Int
	if body.TokenID != "" {
		if tokenID, err = parseTokenID(body.TokenID); err != nil {
			RespondError(w, err)
			return
		}
	}
	tx, err := h.matches.Join(r.Context(), id, tokenID)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Follow(h.baseCtx, id)
	RespondJSON(w, http.StatusOK, map[string]interface{}{"tx": tx})
}

// RefreshMatch forces one immediate re-observation. The manual answer
// to a stuck or suspicious view; it never writes anything on-chain.
func (h *Handler) RefreshMatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Follow(h.baseCtx, id)
	h.controller.Poke(id)
	w.WriteHeader(http.StatusNoContent)
}

// UnfollowMatch stops observing a match.
func (h *Handler) UnfollowMatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Unfollow(id)
	h.hub.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// GetBuffer returns the local pre-submission selection.
func (h *Handler) GetBuffer(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"selected": domain.Roster(h.draft.Buffer().Selected(id)),
	})
}

type toggleRequest struct {
	Horse int `json:"horse"`
}

// ToggleBuffer adds or removes one horse from the selection.
func (h *Handler) ToggleBuffer(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var body toggleRequest
	if err := DecodeJSON(r, &body); err != nil {
		RespondError(w, err)
		return
	}
	if body.Horse < 0 || body.Horse >= domain.HorseCount {
		RespondError(w, domain.ErrValidation("horse index out of range"))
		return
	}
	view, ok := h.views.Get(id)
	if !ok {
		RespondError(w, domain.ErrMatchNotFound(id.String()))
		return
	}
	selected, err := h.draft.Buffer().Toggle(view, uint8(body.Horse))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"selected": domain.Roster(selected)})
}

// AutoFillBuffer completes the selection up to the turn quota.
func (h *Handler) AutoFillBuffer(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	view, ok := h.views.Get(id)
	if !ok {
		RespondError(w, domain.ErrMatchNotFound(id.String()))
		return
	}
	selected := h.draft.Buffer().AutoFill(view)
	RespondJSON(w, http.StatusOK, map[string]interface{}{"selected": domain.Roster(selected)})
}

type submitPicksRequest struct {
	Horses *domain.Roster `json:"horses"`
}

// SubmitPicks submits a draft turn. With no horses in the body the
// buffered selection is submitted.
func (h *Handler) SubmitPicks(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var body submitPicksRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &body); err != nil {
			RespondError(w, err)
			return
		}
	}

	var tx domain.TrackedTransaction
	if body.Horses != nil {
		tx, err = h.draft.SubmitPicks(r.Context(), id, *body.Horses)
	} else {
		tx, err = h.draft.SubmitBuffered(r.Context(), id)
	}
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Poke(id)
	RespondJSON(w, http.StatusOK, map[string]interface{}{"tx": tx})
}

// ExecuteRace manually triggers race resolution.
func (h *Handler) ExecuteRace(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	tx, err := h.controller.ExecuteRace(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.controller.Poke(id)
	RespondJSON(w, http.StatusOK, map[string]interface{}{"tx": tx})
}

// ClaimWinnings submits the payout claim.
func (h *Handler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	tx, err := h.controller.ClaimWinnings(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"tx": tx})
}

// GetOutcome returns the attributed result of a resolved match.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.outcomes.Result(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// GetTransaction returns the latest tracked transaction of a kind.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	kind := domain.TxKind(chi.URLParam(r, "kind"))
	tx, ok := h.tracker.Current(id, kind)
	if !ok {
		RespondError(w, domain.ErrValidation("no tracked transaction of this kind"))
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// ResetTransaction force-clears a tracked transaction, freeing its
// one-outstanding slot.
func (h *Handler) ResetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.tracker.Reset(id, domain.TxKind(chi.URLParam(r, "kind")))
	w.WriteHeader(http.StatusNoContent)
}

// Invite resolves an invite link's match parameter: the join precheck
// for the join screen, plus the cached view when one exists. The match
// is followed either way. A match the node cannot read yet gets the
// same observe-and-retry answer as GetMatch.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("match")
	if raw == "" {
		RespondError(w, domain.ErrValidation("match query parameter is required"))
		return
	}
	id, err := domain.ParseMatchID(raw)
	if err != nil {
		RespondError(w, err)
		return
	}

	chk, err := h.matches.JoinPrecheck(r.Context(), id)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) && appErr.Code == "MATCH_NOT_FOUND" {
			h.controller.Follow(h.baseCtx, id)
			RespondJSON(w, http.StatusAccepted, map[string]interface{}{
				"match_id": id,
				"status":   "observing, retry shortly",
			})
			return
		}
		RespondError(w, err)
		return
	}

	h.controller.Follow(h.baseCtx, id)
	resp := map[string]interface{}{"match_id": id, "join": chk}
	if view, ok := h.views.Get(id); ok {
		resp["view"] = view
	}
	RespondJSON(w, http.StatusOK, resp)
}

type prefsResponse struct {
	Turbo      bool           `json:"turbo"`
	LastBet    *prefs.LastBet `json:"last_bet,omitempty"`
	LastHorses domain.Roster  `json:"last_horses,omitempty"`
}

// GetPrefs returns the persisted UI preferences.
func (h *Handler) GetPrefs(w http.ResponseWriter, r *http.Request) {
	var resp prefsResponse
	var err error
	if resp.Turbo, err = h.prefs.Turbo(); err != nil {
		RespondError(w, err)
		return
	}
	if bet, ok, err := h.prefs.LastBet(); err != nil {
		RespondError(w, err)
		return
	} else if ok {
		resp.LastBet = &bet
	}
	if horses, ok, err := h.prefs.LastHorses(); err != nil {
		RespondError(w, err)
		return
	} else if ok {
		resp.LastHorses = horses
	}
	RespondJSON(w, http.StatusOK, resp)
}

func parseTokenID(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, domain.ErrValidation("token_id must be a non-negative decimal number")
	}
	return v, nil
}

type putPrefsRequest struct {
	Turbo      *bool          `json:"turbo"`
	LastHorses *domain.Roster `json:"last_horses"`
}

// PutPrefs updates the persisted UI preferences.
func (h *Handler) PutPrefs(w http.ResponseWriter, r *http.Request) {
	var body putPrefsRequest
	if err := DecodeJSON(r, &body); err != nil {
		RespondError(w, err)
		return
	}
	if body.Turbo != nil {
		if err := h.prefs.SetTurbo(*body.Turbo); err != nil {
			RespondError(w, err)
			return
		}
	}
	if body.LastHorses != nil {
		if err := h.prefs.SetLastHorses(*body.LastHorses); err != nil {
			RespondError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
