package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TxKind names a logical on-chain write. At most one transaction of a
// given kind may be outstanding per match per local participant.
type TxKind string

const (
	TxApprove     TxKind = "approve"
	TxCreate      TxKind = "create"
	TxJoin        TxKind = "join"
	TxPick        TxKind = "pick"
	TxExecuteRace TxKind = "execute_race"
	TxClaim       TxKind = "claim"
)

// TxStatus tracks the lifecycle of one submitted write. Confirmed means
// the receipt landed; Settled means the side effect is visible on the
// read path too. The two are not atomic on a public chain.
type TxStatus string

const (
	TxIdle      TxStatus = "idle"
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxSettled   TxStatus = "settled"
	TxFailed    TxStatus = "failed"
)

// TrackedTransaction is the record of one in-flight write operation.
type TrackedTransaction struct {
	ID          uuid.UUID    `json:"id"`
	MatchID     MatchID      `json:"match_id"`
	Kind        TxKind       `json:"kind"`
	Hash        *common.Hash `json:"hash,omitempty"` // nil until the wallet returns one
	Status      TxStatus     `json:"status"`
	Attempts    int          `json:"attempts"` // settlement-check attempts consumed
	SubmittedAt time.Time    `json:"submitted_at"`
	// SoftFailed marks settlement-check exhaustion: the write may well
	// be on-chain, re-checking is safe. Distinct from a hard failure.
	SoftFailed bool   `json:"soft_failed"`
	FailReason string `json:"fail_reason,omitempty"`
}
