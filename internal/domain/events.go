package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to view subscribers.
const (
	EventViewUpdated   = "view.updated"
	EventPhaseChanged  = "phase.changed"
	EventTurnChanged   = "turn.changed"
	EventMatchExpired  = "match.expired"
	EventRaceResolved  = "race.resolved"
	EventTxStateChange = "tx.state_changed"
)

// MatchEvent is one notification about a match, fanned out over the
// gateway's WebSocket hub. Duplicate delivery is possible; consumers
// must treat the payload as a snapshot, not a delta.
type MatchEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       string          `json:"type"`
	MatchID    MatchID         `json:"match_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newEvent(typ string, id MatchID, payload any) MatchEvent {
	raw, _ := json.Marshal(payload)
	return MatchEvent{
		EventID:    uuid.New(),
		Type:       typ,
		MatchID:    id,
		Payload:    raw,
		OccurredAt: time.Now(),
	}
}

// NewViewUpdatedEvent wraps a freshly applied view snapshot.
func NewViewUpdatedEvent(v MatchView) MatchEvent {
	return newEvent(EventViewUpdated, v.MatchID, v)
}

// NewPhaseChangedEvent records a lifecycle transition.
func NewPhaseChangedEvent(id MatchID, from, to Phase) MatchEvent {
	return newEvent(EventPhaseChanged, id, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
}

// NewTurnChangedEvent records the turn holder changing during drafting.
func NewTurnChangedEvent(id MatchID, myTurn bool) MatchEvent {
	return newEvent(EventTurnChanged, id, map[string]bool{"my_turn": myTurn})
}

// NewMatchExpiredEvent records the client-observed lobby timeout firing.
func NewMatchExpiredEvent(id MatchID, windowSeconds int64) MatchEvent {
	return newEvent(EventMatchExpired, id, map[string]int64{"window_seconds": windowSeconds})
}

// NewRaceResolvedEvent records the podium becoming visible.
func NewRaceResolvedEvent(id MatchID, winners [3]uint8) MatchEvent {
	return newEvent(EventRaceResolved, id, map[string][3]uint8{"winners": winners})
}

// NewTxStateEvent records a tracked transaction changing state.
func NewTxStateEvent(tx TrackedTransaction) MatchEvent {
	return newEvent(EventTxStateChange, tx.MatchID, tx)
}
