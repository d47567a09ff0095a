package query

import (
	"context"
	"fmt"

	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListTransactionsQuery pages through a user's ledger history, newest first.
type ListTransactionsQuery struct {
	UserID string
	Limit  int
	Offset int
}

// ListTransactionsResult carries one page of ledger entries.
type ListTransactionsResult struct {
	Transactions []ledger.Transaction
	Limit        int
	Offset       int
}

// ListTransactionsHandler handles the ListTransactionsQuery.
type ListTransactionsHandler struct {
	store ledger.Store
}

// NewListTransactionsHandler creates a new ListTransactionsHandler.
func NewListTransactionsHandler(store ledger.Store) *ListTransactionsHandler {
	return &ListTransactionsHandler{store: store}
}

// Handle executes the query. Out-of-range paging inputs are clamped, not
// rejected.
func (h *ListTransactionsHandler) Handle(ctx context.Context, q ListTransactionsQuery) (*ListTransactionsResult, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_transactions: validation failed: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	transactions, err := h.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, shared.WrapError("ledger", "List", shared.ErrStorage, "history read failed", err)
	}

	return &ListTransactionsResult{
		Transactions: transactions,
		Limit:        limit,
		Offset:       offset,
	}, nil
}
