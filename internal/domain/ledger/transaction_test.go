package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

func TestNewTransactionAssignsFreshID(t *testing.T) {
	userID := shared.UserID("user-1")
	opID := shared.OperationID("op-0001")

	tx := NewTransaction(userID, opID, 100, 50, shared.SourceHabitCompletion, 2.0, shared.XP(100))

	require.NotEmpty(t, tx.ID)
	assert.Equal(t, userID, tx.UserID)
	assert.Equal(t, opID, tx.OperationID)
	assert.Equal(t, int64(100), tx.Amount)
	assert.Equal(t, int64(50), tx.RawAmount)
	assert.Equal(t, shared.SourceHabitCompletion, tx.Source)
	assert.Equal(t, 2.0, tx.MultiplierApplied)
	assert.Equal(t, shared.XP(100), tx.ResultingTotal)

	// Seq and CreatedAt belong to the store.
	assert.Zero(t, tx.Seq)
	assert.True(t, tx.CreatedAt.IsZero())

	other := NewTransaction(userID, opID, 100, 50, shared.SourceHabitCompletion, 2.0, shared.XP(100))
	assert.NotEqual(t, tx.ID, other.ID, "every entry gets its own identity")
}
