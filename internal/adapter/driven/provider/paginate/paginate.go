// Package paginate provides a single lazy-iteration helper to exhaust a
// paginated listing, whether the underlying API pages by number or by
// cursor link. The provider adapters walk their own pages and do not call
// it.
package paginate

import (
	"context"
	"fmt"
)

// DefaultMaxPages is the safety cap applied when a caller does not specify
// one, preventing a misbehaving provider (or an unbounded result set) from
// looping forever.
const DefaultMaxPages = 500

// FetchPage retrieves one page of T and returns the cursor to pass for the
// next page, or an empty next cursor when exhausted.
type FetchPage[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// All exhausts a paginated listing by repeatedly calling fetch, starting
// from an empty cursor, until it returns an empty next cursor or maxPages
// pages have been fetched. maxPages <= 0 uses DefaultMaxPages.
func All[T any](ctx context.Context, maxPages int, fetch FetchPage[T]) ([]T, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all []T
	cursor := ""

	for page := 1; page <= maxPages; page++ {
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, items...)

		if next == "" {
			return all, nil
		}
		cursor = next
	}

	return nil, fmt.Errorf("exceeded max page count (%d) without exhausting results", maxPages)
}
