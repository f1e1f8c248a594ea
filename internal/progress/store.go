// Package progress owns the crawl cursor: loading it on startup and advancing
// it one region at a time once that region's page has been fully processed.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Store serializes every read-modify-write of the progress record.
type Store struct {
	repo     harvest.ProgressRepository
	regions  []string
	validate *validator.Validate
	logger   *zap.Logger

	mu sync.Mutex
}

// New builds a Store seeded with the regions used to create a first-run record.
func New(repo harvest.ProgressRepository, regions []string, logger *zap.Logger) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("progress repository is required")
	}
	if len(regions) == 0 {
		return nil, harvest.Wrap(harvest.ErrConfig, "progress.new", errors.New("at least one region is required"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:     repo,
		regions:  append([]string(nil), regions...),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("progress"),
	}, nil
}

// Load returns the stored state, creating the default one on first run.
// Configured regions missing from an existing record join it at the current
// page. Stored regions that are no longer configured keep their cursor.
func (s *Store) Load(ctx context.Context) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.Get(ctx)
	if errors.Is(err, harvest.ErrNotFound) {
		s.logger.Info("no progress record found, creating default", zap.Int("regions", len(s.regions)))
		state, err = s.repo.Create(ctx, harvest.NewProgressState(s.regions))
	}
	if err != nil {
		return harvest.ProgressState{}, err
	}
	if err := s.check(state); err != nil {
		return harvest.ProgressState{}, harvest.Wrap(harvest.ErrConfig, "progress.load", err)
	}
	if len(s.missingRegions(state)) == 0 {
		return state, nil
	}
	return s.addMissingRegions(ctx)
}

func (s *Store) missingRegions(state harvest.ProgressState) []string {
	var missing []string
	for _, region := range s.regions {
		if _, ok := state.Provinces[region]; !ok {
			missing = append(missing, region)
		}
	}
	return missing
}

func (s *Store) addMissingRegions(ctx context.Context) (harvest.ProgressState, error) {
	var added []string
	state, err := s.repo.Update(ctx, func(st *harvest.ProgressState) error {
		added = s.missingRegions(*st)
		if len(added) == 0 {
			return errNoChange
		}
		for _, region := range added {
			st.Provinces[region] = st.CurrentPage
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return state, nil
	}
	if err != nil {
		return harvest.ProgressState{}, err
	}
	s.logger.Info("added configured regions to progress",
		zap.Strings("provinces", added),
		zap.Int("page", state.CurrentPage),
	)
	return state, nil
}

// Advance moves region's cursor to newPage. A newPage at or below the stored
// cursor leaves the record untouched. Once no region remains on the current
// page, the current page moves up to the lowest remaining cursor.
func (s *Store) Advance(ctx context.Context, region string, newPage int) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.Update(ctx, func(st *harvest.ProgressState) error {
		if err := s.check(*st); err != nil {
			return harvest.Wrap(harvest.ErrConfig, "progress.advance", err)
		}
		cursor, ok := st.Provinces[region]
		if !ok {
			return harvest.Wrap(harvest.ErrConfig, "progress.advance", fmt.Errorf("unknown region %q", region))
		}
		if newPage <= cursor {
			return errNoChange
		}
		st.Provinces[region] = newPage
		if low := lowestCursor(st.Provinces); low > st.CurrentPage {
			st.CurrentPage = low
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		s.logger.Debug("advance skipped, cursor already ahead",
			zap.String("province", region),
			zap.Int("page", newPage),
			zap.Int("cursor", state.Provinces[region]),
		)
		return state, nil
	}
	if err != nil {
		return harvest.ProgressState{}, err
	}
	s.logger.Info("advanced progress",
		zap.String("province", region),
		zap.Int("page", newPage),
		zap.Int("current_page", state.CurrentPage),
	)
	return state, nil
}

// Regions returns the regions still waiting on the current page.
func Regions(state harvest.ProgressState) []string {
	return state.PendingRegions()
}

// errNoChange aborts an update without counting as a failure.
var errNoChange = errors.New("progress unchanged")

func (s *Store) check(state harvest.ProgressState) error {
	if err := s.validate.Struct(state); err != nil {
		return fmt.Errorf("invalid progress record: %w", err)
	}
	return nil
}

func lowestCursor(provinces map[string]int) int {
	low := 0
	for _, page := range provinces {
		if low == 0 || page < low {
			low = page
		}
	}
	return low
}
