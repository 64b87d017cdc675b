package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelponies/pvp/internal/domain"
)

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)

	result := cb.Check("rpc:read")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)

	cb.Check("rpc:read")
	cb.RecordFailure("rpc:read")
	cb.RecordFailure("rpc:read")

	result := cb.Check("rpc:read")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)

	cb.Check("rpc:read")
	cb.RecordFailure("rpc:read")
	cb.RecordSuccess("rpc:read")

	result := cb.Check("rpc:read")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_SeparateKeys(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Second)

	cb.Check("rpc:read")
	cb.RecordFailure("rpc:read")

	assert.False(t, cb.Check("rpc:read").Allowed)
	assert.True(t, cb.Check("rpc:submit").Allowed)
}

func testMatchID(b byte) domain.MatchID {
	var id domain.MatchID
	id[0] = b
	return id
}

func TestInflight_AllowsFirst(t *testing.T) {
	g := NewInflight()

	result := g.Acquire(testMatchID(1), domain.TxPick)
	assert.True(t, result.Allowed)
	assert.True(t, g.Held(testMatchID(1), domain.TxPick))
}

func TestInflight_BlocksSecondOfSameKind(t *testing.T) {
	g := NewInflight()

	g.Acquire(testMatchID(1), domain.TxPick)
	result := g.Acquire(testMatchID(1), domain.TxPick)

	assert.False(t, result.Allowed)
	assert.Equal(t, "inflight", result.Guard)
}

func TestInflight_KindsAreIndependent(t *testing.T) {
	g := NewInflight()

	g.Acquire(testMatchID(1), domain.TxApprove)
	result := g.Acquire(testMatchID(1), domain.TxJoin)

	assert.True(t, result.Allowed)
}

func TestInflight_MatchesAreIndependent(t *testing.T) {
	g := NewInflight()

	g.Acquire(testMatchID(1), domain.TxPick)
	result := g.Acquire(testMatchID(2), domain.TxPick)

	assert.True(t, result.Allowed)
}

func TestInflight_ReleaseAllowsRetry(t *testing.T) {
	g := NewInflight()

	g.Acquire(testMatchID(1), domain.TxExecuteRace)
	g.Release(testMatchID(1), domain.TxExecuteRace)

	result := g.Acquire(testMatchID(1), domain.TxExecuteRace)
	require.True(t, result.Allowed)
}
