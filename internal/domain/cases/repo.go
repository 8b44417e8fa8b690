package cases

import (
	"context"

	"github.com/google/uuid"

	"github.com/chw/casereport/internal/platform/reporting"
)

// CaseRepository stores cases. Every read and write takes a Filter; a record
// outside the filter behaves as if it did not exist.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, f Filter, id uuid.UUID) (*Case, error)
	Update(ctx context.Context, f Filter, c *Case) error
	Delete(ctx context.Context, f Filter, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error)
	CountBy(ctx context.Context, f Filter, field GroupField) ([]GroupCount, error)
	// Tally counts records and distinct patient names per condition. The
	// zero condition matches every record in f.
	Tally(ctx context.Context, f Filter, conds []reporting.Condition) (map[reporting.Condition]reporting.Tally, error)
}
