package paginate_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/paginate"
)

func TestAll_SinglePage(t *testing.T) {
	fetch := func(ctx context.Context, cursor string) ([]int, string, error) {
		return []int{1, 2, 3}, "", nil
	}

	items, err := paginate.All(context.Background(), 0, fetch)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
}

func TestAll_MultiplePagesByCursor(t *testing.T) {
	pages := map[string][]int{
		"":  {1, 2},
		"2": {3, 4},
		"4": {5},
	}
	next := map[string]string{"": "2", "2": "4", "4": ""}

	fetch := func(ctx context.Context, cursor string) ([]int, string, error) {
		return pages[cursor], next[cursor], nil
	}

	items, err := paginate.All(context.Background(), 0, fetch)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
}

func TestAll_PropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(ctx context.Context, cursor string) ([]int, string, error) {
		return nil, "", boom
	}

	_, err := paginate.All(context.Background(), 0, fetch)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestAll_StopsAtMaxPages(t *testing.T) {
	page := 0
	fetch := func(ctx context.Context, cursor string) ([]int, string, error) {
		page++
		return []int{page}, strconv.Itoa(page), nil
	}

	_, err := paginate.All(context.Background(), 3, fetch)

	require.Error(t, err, "an ever-advancing cursor must trip the max page safety cap")
}

func TestAll_EmptyResult(t *testing.T) {
	fetch := func(ctx context.Context, cursor string) ([]string, string, error) {
		return nil, "", nil
	}

	items, err := paginate.All(context.Background(), 0, fetch)

	require.NoError(t, err)
	assert.Empty(t, items)
}
