package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// ProgressStore keeps the singleton progress record in scraping_progress.
type ProgressStore struct {
	db  DB
	now func() time.Time
}

// NewProgressStore wraps db.
func NewProgressStore(db DB) *ProgressStore {
	return &ProgressStore{db: db, now: time.Now}
}

// Get loads the progress record.
func (s *ProgressStore) Get(ctx context.Context) (harvest.ProgressState, error) {
	state, err := s.selectState(ctx, s.db, false)
	if err != nil {
		return harvest.ProgressState{}, err
	}
	return state, nil
}

// Create inserts state unless a record exists, then returns the stored record.
func (s *ProgressStore) Create(ctx context.Context, state harvest.ProgressState) (harvest.ProgressState, error) {
	provinces, err := json.Marshal(state.Provinces)
	if err != nil {
		return harvest.ProgressState{}, fmt.Errorf("marshal provinces: %w", err)
	}
	q := builder().Insert(tableProgress).
		Columns("id", "current_page", "provinces", "updated_at").
		Values(harvest.ProgressDocumentID, state.CurrentPage, provinces, s.now().UTC()).
		Suffix("ON CONFLICT (id) DO NOTHING")
	if _, err := exec(ctx, s.db, q); err != nil {
		return harvest.ProgressState{}, harvest.Wrap(harvest.ErrStorage, "postgres.progress.create", err)
	}
	return s.Get(ctx)
}

// Update locks the record, applies fn, and writes the result in one transaction.
func (s *ProgressStore) Update(
	ctx context.Context,
	fn func(*harvest.ProgressState) error,
) (state harvest.ProgressState, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return harvest.ProgressState{}, harvest.Wrap(harvest.ErrStorage, "postgres.progress.begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := s.selectState(ctx, tx, true)
	if err != nil {
		return harvest.ProgressState{}, err
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, err
	}
	provinces, err := json.Marshal(next.Provinces)
	if err != nil {
		return current, fmt.Errorf("marshal provinces: %w", err)
	}
	q := builder().Update(tableProgress).
		Set("current_page", next.CurrentPage).
		Set("provinces", provinces).
		Set("updated_at", s.now().UTC()).
		Where(sq.Eq{"id": harvest.ProgressDocumentID})
	text, args, err := q.ToSql()
	if err != nil {
		return current, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.Exec(ctx, text, args...); err != nil {
		return current, harvest.Wrap(harvest.ErrStorage, "postgres.progress.update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return current, harvest.Wrap(harvest.ErrStorage, "postgres.progress.commit", err)
	}
	committed = true
	return next, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *ProgressStore) selectState(ctx context.Context, db rowQuerier, forUpdate bool) (harvest.ProgressState, error) {
	q := builder().Select("current_page", "provinces").
		From(tableProgress).
		Where(sq.Eq{"id": harvest.ProgressDocumentID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	text, args, err := q.ToSql()
	if err != nil {
		return harvest.ProgressState{}, fmt.Errorf("build query: %w", err)
	}
	var (
		state     harvest.ProgressState
		provinces []byte
	)
	if err := db.QueryRow(ctx, text, args...).Scan(&state.CurrentPage, &provinces); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.ProgressState{}, harvest.ErrNotFound
		}
		return harvest.ProgressState{}, harvest.Wrap(harvest.ErrStorage, "postgres.progress.get", err)
	}
	if err := json.Unmarshal(provinces, &state.Provinces); err != nil {
		return harvest.ProgressState{}, harvest.Wrap(harvest.ErrConfig, "postgres.progress.get", fmt.Errorf("decode provinces: %w", err))
	}
	return state, nil
}
