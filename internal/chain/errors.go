package chain

import (
	"errors"
	"strings"

	"github.com/pixelponies/pvp/internal/domain"
)

// RevertReason pulls the human-readable reason out of a node error, if
// one is present. Node implementations phrase this differently; the
// common shape is "execution reverted: <reason>".
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	idx := strings.Index(msg, "execution reverted")
	if idx < 0 {
		return "", false
	}
	rest := msg[idx+len("execution reverted"):]
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest), true
}

// classifySubmitErr maps a submission failure onto the error taxonomy:
// wallet refusal and contract reverts are terminal, everything else is
// a transient upstream failure.
func classifySubmitErr(err error) *domain.AppError {
	if errors.Is(err, ErrWalletDeclined) {
		return domain.ErrWalletRejected()
	}
	if reason, ok := RevertReason(err); ok {
		return domain.ErrActionReverted(reason, err)
	}
	return domain.ErrUnavailable("transaction submission failed", err)
}
