package cases

import (
	"context"

	"github.com/google/uuid"

	"github.com/chw/casereport/internal/platform/reporting"
)

type Service struct {
	repo CaseRepository
}

func NewService(repo CaseRepository) *Service {
	return &Service{repo: repo}
}

// GroupCount returns one row per distinct value of field among the records
// in f, ascending with unset values last.
func (s *Service) GroupCount(ctx context.Context, f Filter, field GroupField) ([]GroupCount, error) {
	field, err := ParseGroupField(string(field))
	if err != nil {
		return nil, err
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	rows, err := s.repo.CountBy(ctx, f, field)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []GroupCount{}
	}
	return rows, nil
}

// Statistics evaluates the catalog for f's scope over the records in f.
func (s *Service) Statistics(ctx context.Context, f Filter) (reporting.Report, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	tallier := reporting.TallierFunc(func(ctx context.Context, conds []reporting.Condition) (map[reporting.Condition]reporting.Tally, error) {
		return s.repo.Tally(ctx, f, conds)
	})
	return reporting.Evaluate(ctx, tallier, MeasuresFor(f.Scope))
}

// CreateCase stores c as owned by caller. Any creator in the payload is
// ignored.
func (s *Service) CreateCase(ctx context.Context, caller string, c *Case) error {
	if caller == "" {
		return ErrUnauthenticated
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.CreatedBy = caller
	return s.repo.Create(ctx, c)
}

func (s *Service) GetCase(ctx context.Context, f Filter, id uuid.UUID) (*Case, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, f, id)
}

// UpdateCase replaces the attributes of c.ID. Creator and creation time are
// kept from the stored record.
func (s *Service) UpdateCase(ctx context.Context, f Filter, c *Case) error {
	if err := f.check(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, f, c)
}

func (s *Service) DeleteCase(ctx context.Context, f Filter, id uuid.UUID) error {
	if err := f.check(); err != nil {
		return err
	}
	return s.repo.Delete(ctx, f, id)
}

// ListCases returns records in f, newest first, with the total count.
func (s *Service) ListCases(ctx context.Context, f Filter, limit, offset int) ([]*Case, int, error) {
	if err := f.check(); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f, limit, offset)
}
