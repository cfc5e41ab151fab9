package sourcing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

// defaultPartitionDelay spaces out per-partition queries so many small
// requests landing together do not burst the source's per-minute ceiling.
// Distinct from the rate limiter, which gates individual calls.
const defaultPartitionDelay = 2 * time.Second

// TitleGroup names a set of job titles searched together as one partition.
type TitleGroup struct {
	Name   string
	Titles []string
}

// Allocator splits one requested total across partition axes (title groups
// outer, companies inner) and reassembles the results in input order.
type Allocator struct {
	pager *Pager
	delay time.Duration
	log   *zap.Logger
}

// AllocatorOption customizes an Allocator.
type AllocatorOption func(*Allocator)

// WithPartitionDelay sets the pause inserted between partition queries.
// Zero disables the pause.
func WithPartitionDelay(d time.Duration) AllocatorOption {
	return func(a *Allocator) { a.delay = d }
}

// WithAllocatorLogger sets the logger used for partition-level events.
func WithAllocatorLogger(l *zap.Logger) AllocatorOption {
	return func(a *Allocator) { a.log = l }
}

// NewAllocator creates an allocator over the given pager.
func NewAllocator(pager *Pager, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		pager: pager,
		delay: defaultPartitionDelay,
		log:   zap.L(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect runs one pager query per partition and concatenates the results
// in partition order, truncated to exactly spec.Count. Each partition
// targets ceil(N/partitions) contacts; rounding up means rich early
// partitions can cover for sparse later ones, and the final truncation
// keeps the total at N. An absent axis contributes a single implicit
// partition. Returns the contacts along with the total number of page
// requests issued.
func (a *Allocator) Collect(ctx context.Context, spec QuerySpec, groups []TitleGroup, companies []string) ([]model.Contact, int, error) {
	total := spec.Count
	if total <= 0 {
		return nil, 0, nil
	}

	outer := len(groups)
	if outer == 0 {
		outer = 1
	}
	inner := len(companies)
	if inner == 0 {
		inner = 1
	}
	cells := outer * inner
	perCell := ceilDiv(total, cells)

	contacts := make([]model.Contact, 0, total)
	requests := 0
	cell := 0

	for g := 0; g < outer; g++ {
		for c := 0; c < inner; c++ {
			sub := spec
			sub.Count = perCell
			groupName := ""
			if len(groups) > 0 {
				sub.Titles = groups[g].Titles
				groupName = groups[g].Name
			}
			company := ""
			if len(companies) > 0 {
				sub.Organization = companies[c]
				company = companies[c]
			}

			got, reqs, err := a.pager.Fetch(ctx, sub)
			requests += reqs
			if err != nil {
				return nil, requests, err
			}
			contacts = append(contacts, got...)

			a.log.Info("sourcing: partition complete",
				zap.String("title_group", groupName),
				zap.String("company", company),
				zap.Int("target", perCell),
				zap.Int("contacts", len(got)),
				zap.Int("requests", reqs),
			)

			cell++
			if cell < cells && a.delay > 0 {
				if err := sleepCtx(ctx, a.delay); err != nil {
					return nil, requests, err
				}
			}
		}
	}

	if len(contacts) > total {
		contacts = contacts[:total]
	}
	return contacts, requests, nil
}

func ceilDiv(n, k int) int {
	return (n + k - 1) / k
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
