package draft

import (
	"sync"

	"github.com/pixelponies/pvp/internal/domain"
)

// Buffer is the local, pre-submission selection for one match. Horses
// accumulate here with no chain interaction; nothing leaves the buffer
// until the whole turn quota is submitted at once.
type Buffer struct {
	mu       sync.Mutex
	selected map[domain.MatchID][]uint8
}

// NewBuffer creates an empty selection buffer.
func NewBuffer() *Buffer {
	return &Buffer{selected: make(map[domain.MatchID][]uint8)}
}

// Toggle adds the horse to the selection, or removes it if already
// selected. Additions are validated against the current view: the horse
// must still be available and the selection may not exceed the turn
// quota. Removal always succeeds.
func (b *Buffer) Toggle(view domain.MatchView, horse uint8) ([]uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.selected[view.MatchID]
	for i, h := range cur {
		if h == horse {
			next := append(append([]uint8{}, cur[:i]...), cur[i+1:]...)
			b.selected[view.MatchID] = next
			return append([]uint8{}, next...), nil
		}
	}

	if horse >= domain.HorseCount {
		return nil, domain.ErrValidation("horse index out of range")
	}
	if view.CreatorHorses.Contains(horse) || view.OpponentHorses.Contains(horse) {
		return nil, domain.ErrHorseTaken(horse)
	}
	if len(cur) >= view.TicketsRemainingThisTurn {
		return nil, domain.ErrValidation("selection already holds this turn's quota")
	}

	next := append(append([]uint8{}, cur...), horse)
	b.selected[view.MatchID] = next
	return append([]uint8{}, next...), nil
}

// Selected returns the current selection for a match.
func (b *Buffer) Selected(id domain.MatchID) []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint8{}, b.selected[id]...)
}

// Clear drops the selection, e.g. after a successful submission or a
// roster change observed from the chain.
func (b *Buffer) Clear(id domain.MatchID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.selected, id)
}

// AutoFill completes the selection up to the turn quota by taking the
// highest-indexed horses still available and not already selected.
func (b *Buffer) AutoFill(view domain.MatchView) []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := append([]uint8{}, b.selected[view.MatchID]...)
	need := view.TicketsRemainingThisTurn - len(cur)
	for i := len(view.AvailableHorses) - 1; i >= 0 && need > 0; i-- {
		h := view.AvailableHorses[i]
		if !contains(cur, h) {
			cur = append(cur, h)
			need--
		}
	}
	b.selected[view.MatchID] = cur
	return append([]uint8{}, cur...)
}

func contains(s []uint8, h uint8) bool {
	for _, v := range s {
		if v == h {
			return true
		}
	}
	return false
}

// Validate checks a pick submission against the view, in a fixed order:
// turn first, then per-horse availability, then exact count. The order
// is observable through which error a bad submission gets.
func Validate(view domain.MatchView, picks []uint8) error {
	if !view.IsMyTurn {
		return domain.ErrNotYourTurn()
	}
	seen := map[uint8]bool{}
	for _, h := range picks {
		if h >= domain.HorseCount {
			return domain.ErrValidation("horse index out of range")
		}
		if view.CreatorHorses.Contains(h) || view.OpponentHorses.Contains(h) {
			return domain.ErrHorseTaken(h)
		}
		if seen[h] {
			return domain.ErrValidation("duplicate horse in selection")
		}
		seen[h] = true
	}
	if len(picks) != view.TicketsRemainingThisTurn {
		return domain.ErrWrongPickCount(len(picks), view.TicketsRemainingThisTurn)
	}
	return nil
}
