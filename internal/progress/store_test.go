package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/storage/memory"
)

func newStore(t *testing.T, repo harvest.ProgressRepository, regions ...string) *Store {
	t.Helper()
	store, err := New(repo, regions, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestLoadCreatesDefaultState(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressStore()
	store := newStore(t, repo, "bali", "aceh")

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentPage)
	require.Equal(t, map[string]int{"bali": 1, "aceh": 1}, state.Provinces)

	persisted, err := repo.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, state, persisted)
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state harvest.ProgressState
	}{
		{name: "zero page", state: harvest.ProgressState{Provinces: map[string]int{"bali": 1}}},
		{name: "no provinces", state: harvest.ProgressState{CurrentPage: 1}},
		{name: "bad cursor", state: harvest.ProgressState{CurrentPage: 1, Provinces: map[string]int{"bali": 0}}},
		{name: "empty region", state: harvest.ProgressState{CurrentPage: 1, Provinces: map[string]int{"": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := memory.NewProgressStore()
			_, err := repo.Create(context.Background(), tt.state)
			require.NoError(t, err)

			_, err = newStore(t, repo, "bali").Load(context.Background())
			require.ErrorIs(t, err, harvest.ErrConfig)
		})
	}
}

func TestLoadAddsNewlyConfiguredRegions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProgressStore()
	_, err := repo.Create(ctx, harvest.ProgressState{
		CurrentPage: 4,
		Provinces:   map[string]int{"bali": 4, "aceh": 5, "retired": 6},
	})
	require.NoError(t, err)

	state, err := newStore(t, repo, "bali", "aceh", "papua").Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, state.CurrentPage)
	require.Equal(t, map[string]int{"bali": 4, "aceh": 5, "papua": 4, "retired": 6}, state.Provinces)
	require.Equal(t, []string{"bali", "papua"}, state.PendingRegions())

	persisted, err := repo.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, state, persisted)

	again, err := newStore(t, repo, "bali", "aceh", "papua").Load(ctx)
	require.NoError(t, err)
	require.Equal(t, state, again)
}

func TestLoadReconcileStorageError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &updateFailingRepo{ProgressStore: memory.NewProgressStore(), err: harvest.Wrap(harvest.ErrStorage, "update", errors.New("deadlock"))}
	_, err := repo.Create(ctx, harvest.NewProgressState([]string{"bali"}))
	require.NoError(t, err)

	_, err = newStore(t, repo, "bali").Load(ctx)
	require.NoError(t, err, "no update when nothing is missing")

	_, err = newStore(t, repo, "bali", "papua").Load(ctx)
	require.ErrorIs(t, err, harvest.ErrStorage)
}

func TestLoadPropagatesStorageError(t *testing.T) {
	t.Parallel()

	repo := &failingRepo{err: harvest.Wrap(harvest.ErrStorage, "get", errors.New("dial tcp: refused"))}
	_, err := newStore(t, repo, "bali").Load(context.Background())
	require.ErrorIs(t, err, harvest.ErrStorage)
}

func TestAdvanceMovesCurrentPageWhenLastRegionLeaves(t *testing.T) {
	t.Parallel()

	store := newStore(t, memory.NewProgressStore(), "bali", "aceh")
	ctx := context.Background()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	state, err := store.Advance(ctx, "bali", 2)
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentPage)
	require.Equal(t, []string{"aceh"}, Regions(state))

	state, err = store.Advance(ctx, "aceh", 2)
	require.NoError(t, err)
	require.Equal(t, 2, state.CurrentPage)
	require.Equal(t, []string{"aceh", "bali"}, Regions(state))
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	store := newStore(t, memory.NewProgressStore(), "bali", "aceh")
	ctx := context.Background()
	_, err := store.Load(ctx)
	require.NoError(t, err)
	_, err = store.Advance(ctx, "bali", 3)
	require.NoError(t, err)

	for _, page := range []int{1, 2, 3} {
		state, err := store.Advance(ctx, "bali", page)
		require.NoError(t, err)
		require.Equal(t, 3, state.Provinces["bali"])
	}
}

func TestAdvanceUnknownRegion(t *testing.T) {
	t.Parallel()

	store := newStore(t, memory.NewProgressStore(), "bali")
	ctx := context.Background()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	_, err = store.Advance(ctx, "atlantis", 2)
	require.ErrorIs(t, err, harvest.ErrConfig)
}

func TestAdvanceDoesNotTouchOtherRegionsOnSamePage(t *testing.T) {
	t.Parallel()

	store := newStore(t, memory.NewProgressStore(), "bali", "aceh", "papua")
	ctx := context.Background()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	state, err := store.Advance(ctx, "papua", 2)
	require.NoError(t, err)
	require.Equal(t, 1, state.Provinces["bali"])
	require.Equal(t, 1, state.Provinces["aceh"])
}

func TestAdvanceConcurrentWritersSerialize(t *testing.T) {
	t.Parallel()

	regions := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	store := newStore(t, memory.NewProgressStore(), regions...)
	ctx := context.Background()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, r := range regions {
		wg.Add(1)
		go func(region string) {
			defer wg.Done()
			_, err := store.Advance(ctx, region, 2)
			require.NoError(t, err)
		}(r)
	}
	wg.Wait()

	state, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, state.CurrentPage)
	for _, r := range regions {
		require.Equal(t, 2, state.Provinces[r])
	}
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, []string{"bali"}, nil)
	require.Error(t, err)
	_, err = New(memory.NewProgressStore(), nil, nil)
	require.ErrorIs(t, err, harvest.ErrConfig)
}

type failingRepo struct {
	err error
}

func (f *failingRepo) Get(context.Context) (harvest.ProgressState, error) {
	return harvest.ProgressState{}, f.err
}

func (f *failingRepo) Create(context.Context, harvest.ProgressState) (harvest.ProgressState, error) {
	return harvest.ProgressState{}, f.err
}

func (f *failingRepo) Update(
	context.Context,
	func(*harvest.ProgressState) error,
) (harvest.ProgressState, error) {
	return harvest.ProgressState{}, f.err
}

type updateFailingRepo struct {
	*memory.ProgressStore
	err error
}

func (f *updateFailingRepo) Update(
	context.Context,
	func(*harvest.ProgressState) error,
) (harvest.ProgressState, error) {
	return harvest.ProgressState{}, f.err
}
