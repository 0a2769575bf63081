package extent

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/heapcore/internal/resource"
)

// Budgeted charges a Source's mapped bytes against a memory budget.
type Budgeted struct {
	Source
	rc *resource.Controller
}

// NewBudgeted wraps src. A nil controller disables accounting.
func NewBudgeted(src Source, rc *resource.Controller) *Budgeted {
	return &Budgeted{Source: src, rc: rc}
}

func (b *Budgeted) Grow(n int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidSize
	}
	want := int64(roundUp(n, b.PageSize()))
	if err := b.rc.AcquireMemory(want); err != nil {
		return b.Len(), fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	before := b.Len()
	after, err := b.Source.Grow(n)
	if err != nil {
		b.rc.ReleaseMemory(want)
		return after, err
	}
	if grown := int64(after - before); grown < want {
		b.rc.ReleaseMemory(want - grown)
	}
	return after, nil
}

func (b *Budgeted) Shrink(n int) (int, error) {
	before := b.Len()
	after, err := b.Source.Shrink(n)
	if err != nil {
		return after, err
	}
	b.rc.ReleaseMemory(int64(before - after))
	return after, nil
}

func (b *Budgeted) Close() error {
	b.rc.ReleaseMemory(int64(b.Len()))
	return b.Source.Close()
}

// BudgetedMapper charges every mapped Region against a memory budget.
type BudgetedMapper struct {
	Mapper
	rc *resource.Controller
}

// NewBudgetedMapper wraps m. A nil controller disables accounting.
func NewBudgetedMapper(m Mapper, rc *resource.Controller) *BudgetedMapper {
	return &BudgetedMapper{Mapper: m, rc: rc}
}

func (b *BudgetedMapper) Map(size int) (Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if err := b.rc.AcquireMemory(int64(size)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
	}
	r, err := b.Mapper.Map(size)
	if err != nil {
		b.rc.ReleaseMemory(int64(size))
		return nil, err
	}
	return &budgetedRegion{Region: r, rc: b.rc, size: int64(size)}, nil
}

type budgetedRegion struct {
	Region
	rc       *resource.Controller
	size     int64
	released atomic.Bool
}

func (r *budgetedRegion) Close() error {
	if !r.released.Swap(true) {
		r.rc.ReleaseMemory(r.size)
	}
	return r.Region.Close()
}
