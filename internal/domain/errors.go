package domain

import "fmt"

// AppError is the base error type surfaced across component boundaries.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error constructors, one per taxonomy entry.

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrMatchNotFound(id string) *AppError {
	return &AppError{Code: "MATCH_NOT_FOUND", Message: fmt.Sprintf("match %s not found", id), Status: 404}
}

// ErrNotYourTurn rejects a pick attempt outside the caller's turn.
func ErrNotYourTurn() *AppError {
	return &AppError{Code: "NOT_YOUR_TURN", Message: "it is not your turn to pick", Status: 409}
}

// ErrHorseTaken rejects a pick naming a horse already on either roster.
func ErrHorseTaken(horse uint8) *AppError {
	return &AppError{Code: "HORSE_TAKEN", Message: fmt.Sprintf("horse %d already belongs to a roster", horse), Status: 409}
}

// ErrWrongPickCount rejects a submission that does not carry exactly the
// turn quota. Partial and over-sized submissions never reach the chain.
func ErrWrongPickCount(got, want int) *AppError {
	return &AppError{Code: "WRONG_PICK_COUNT", Message: fmt.Sprintf("selected %d horses, this turn requires exactly %d", got, want), Status: 400}
}

// ErrActionInFlight rejects starting a write while one of the same kind
// is still outstanding for the match.
func ErrActionInFlight(kind TxKind) *AppError {
	return &AppError{Code: "ACTION_IN_FLIGHT", Message: fmt.Sprintf("a %s transaction is already outstanding for this match", kind), Status: 409}
}

// ErrWalletRejected marks a signer refusal: user intent, not a fault.
func ErrWalletRejected() *AppError {
	return &AppError{Code: "WALLET_REJECTED", Message: "transaction rejected in wallet", Status: 400}
}

// ErrActionReverted carries the contract's revert reason when one could
// be extracted.
func ErrActionReverted(reason string, cause error) *AppError {
	msg := "transaction reverted"
	if reason != "" {
		msg = fmt.Sprintf("transaction reverted: %s", reason)
	}
	return &AppError{Code: "ACTION_REVERTED", Message: msg, Status: 422, Cause: cause}
}

// ErrSettlementUnverified is the soft failure after settlement-check
// exhaustion: the write is likely on-chain and re-checking is safe.
func ErrSettlementUnverified(kind TxKind) *AppError {
	return &AppError{Code: "SETTLEMENT_UNVERIFIED", Message: fmt.Sprintf("%s is likely on-chain but could not be verified yet; re-check is safe", kind), Status: 202}
}

// ErrNoMatchingEvent marks an outcome decode failure. Distinct from the
// race simply not having run yet; the two must never be conflated.
func ErrNoMatchingEvent() *AppError {
	return &AppError{Code: "NO_MATCHING_EVENT", Message: "no decodable race result event in the receipt", Status: 422}
}

// ErrRaceNotRun reports that no result exists yet. A retry-later signal.
func ErrRaceNotRun() *AppError {
	return &AppError{Code: "RACE_NOT_RUN", Message: "race has not been executed yet", Status: 404}
}

// ErrUnavailable wraps a transient I/O failure whose retry budget is
// exhausted.
func ErrUnavailable(msg string, cause error) *AppError {
	return &AppError{Code: "UPSTREAM_UNAVAILABLE", Message: msg, Status: 503, Cause: cause}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
