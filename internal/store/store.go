package store

import (
	"context"

	"github.com/nhle/onebox/internal/model"
)

// Filter controls filtering and pagination for message queries.
type Filter struct {
	Query     *string // search subject + body + sender
	AccountID *string
	Folder    *string
	Category  *model.Category
	Page      int // 1-based
	Limit     int
}

// Store defines the persistence interface for messages and leads.
type Store interface {
	// === Messages ===

	Upsert(ctx context.Context, msgs []*model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	Search(ctx context.Context, filter Filter) ([]model.Message, int, error)
	DeleteByID(ctx context.Context, id string) error
	PatchCategory(ctx context.Context, ids []string, category model.Category) (int, error)

	// === Aggregates ===

	CategoryCounts(ctx context.Context, accountID *string) (map[model.Category]int, error)
	AccountIDs(ctx context.Context) ([]string, error)

	// === Leads ===

	RecordLead(ctx context.Context, lead model.Lead) error
	RecentLeads(ctx context.Context, limit int) ([]model.Lead, error)
}
