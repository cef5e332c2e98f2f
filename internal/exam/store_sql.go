package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/mind-engage/mindengage-assess/internal/db"
)

// startRetries bounds how often StartAttempt re-reads after losing a race
// on the unique indexes.
const startRetries = 3

type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(conn *sqlx.DB) *SQLStore {
	return &SQLStore{db: conn}
}

const attemptCols = `id, test_id, learner_id, attempt_number, status, end_reason,
	started_at, deadline, submitted_at, graded_at, score, passed, answers_json, version`

type attemptRow struct {
	ID            string     `db:"id"`
	TestID        string     `db:"test_id"`
	LearnerID     string     `db:"learner_id"`
	AttemptNumber int        `db:"attempt_number"`
	Status        string     `db:"status"`
	EndReason     string     `db:"end_reason"`
	StartedAt     int64      `db:"started_at"`
	Deadline      null.Int64 `db:"deadline"`
	SubmittedAt   null.Int64 `db:"submitted_at"`
	GradedAt      null.Int64 `db:"graded_at"`
	Score         null.Int   `db:"score"`
	Passed        null.Bool  `db:"passed"`
	AnswersJSON   string     `db:"answers_json"`
	Version       int64      `db:"version"`
}

func toRow(a Attempt) (attemptRow, error) {
	answers := a.Answers
	if answers == nil {
		answers = map[string]Answer{}
	}
	buf, err := json.Marshal(answers)
	if err != nil {
		return attemptRow{}, err
	}
	return attemptRow{
		ID:            a.ID,
		TestID:        a.TestID,
		LearnerID:     a.LearnerID,
		AttemptNumber: a.AttemptNumber,
		Status:        string(a.Status),
		EndReason:     string(a.EndReason),
		StartedAt:     a.StartedAt.Unix(),
		Deadline:      unixOrNull(a.Deadline),
		SubmittedAt:   unixOrNull(a.SubmittedAt),
		GradedAt:      unixOrNull(a.GradedAt),
		Score:         null.IntFromPtr(a.Score),
		Passed:        null.BoolFromPtr(a.Passed),
		AnswersJSON:   string(buf),
		Version:       a.Version,
	}, nil
}

func (r attemptRow) attempt() (Attempt, error) {
	a := Attempt{
		ID:            r.ID,
		TestID:        r.TestID,
		LearnerID:     r.LearnerID,
		AttemptNumber: r.AttemptNumber,
		Status:        Status(r.Status),
		EndReason:     EndReason(r.EndReason),
		StartedAt:     time.Unix(r.StartedAt, 0).UTC(),
		Deadline:      timeOrNil(r.Deadline),
		SubmittedAt:   timeOrNil(r.SubmittedAt),
		GradedAt:      timeOrNil(r.GradedAt),
		Score:         r.Score.Ptr(),
		Passed:        r.Passed.Ptr(),
		Version:       r.Version,
	}
	if err := json.Unmarshal([]byte(r.AnswersJSON), &a.Answers); err != nil {
		return Attempt{}, fmt.Errorf("decode answers of attempt %s: %w", r.ID, err)
	}
	if a.Answers == nil {
		a.Answers = map[string]Answer{}
	}
	return a, nil
}

func (s *SQLStore) PutTest(ctx context.Context, t TestDefinition) error {
	buf, err := json.Marshal(t)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO tests (id, definition_json, is_published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET definition_json=EXCLUDED.definition_json,
			is_published=EXCLUDED.is_published, updated_at=EXCLUDED.updated_at`),
		t.ID, string(buf), t.IsPublished, now, now)
	return err
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (TestDefinition, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT definition_json FROM tests WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return TestDefinition{}, ErrTestNotFound
	}
	if err != nil {
		return TestDefinition{}, err
	}
	var t TestDefinition
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return TestDefinition{}, fmt.Errorf("decode test %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) StartAttempt(ctx context.Context, req StartRequest) (Attempt, bool, error) {
	var lastErr error
	for i := 0; i < startRetries; i++ {
		a, resumed, err := s.tryStart(ctx, req)
		if err == nil || !db.IsUniqueViolation(err) {
			return a, resumed, err
		}
		// A concurrent start won; the next pass resumes its attempt.
		lastErr = err
	}
	return Attempt{}, false, fmt.Errorf("start attempt: %w", lastErr)
}

func (s *SQLStore) tryStart(ctx context.Context, req StartRequest) (out Attempt, resumed bool, err error) {
	err = db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT 1 FROM tests WHERE id=?`), req.TestID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTestNotFound
			}
			return err
		}

		var row attemptRow
		err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+attemptCols+` FROM attempts
			WHERE test_id=? AND learner_id=? AND status=?`), req.TestID, req.LearnerID, string(StatusInProgress))
		switch {
		case err == nil:
			out, err = row.attempt()
			resumed = true
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		var used int
		if err := tx.GetContext(ctx, &used, tx.Rebind(`SELECT COUNT(*) FROM attempts
			WHERE test_id=? AND learner_id=? AND status<>?`), req.TestID, req.LearnerID, string(StatusInProgress)); err != nil {
			return err
		}
		if used >= req.MaxAttempts {
			return ErrAttemptLimitExceeded
		}

		out = Attempt{
			ID:            req.ID,
			TestID:        req.TestID,
			LearnerID:     req.LearnerID,
			AttemptNumber: used + 1,
			Status:        StatusInProgress,
			StartedAt:     req.StartedAt,
			Deadline:      req.Deadline,
			Answers:       map[string]Answer{},
			Version:       1,
		}
		r, err := toRow(out)
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
			VALUES (:id, :test_id, :learner_id, :attempt_number, :status, :end_reason,
				:started_at, :deadline, :submitted_at, :graded_at, :score, :passed, :answers_json, :version)`, r)
		return err
	})
	return out, resumed, err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	var row attemptRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+attemptCols+` FROM attempts WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	return row.attempt()
}

func (s *SQLStore) UpdateAttempt(ctx context.Context, a *Attempt) error {
	r, err := toRow(*a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE attempts
		SET status=?, end_reason=?, submitted_at=?, graded_at=?, score=?, passed=?, answers_json=?, version=version+1
		WHERE id=? AND version=?`),
		r.Status, r.EndReason, r.SubmittedAt, r.GradedAt, r.Score, r.Passed, r.AnswersJSON, r.ID, r.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	if opts.TestID != "" {
		where = append(where, "test_id=?")
		args = append(args, opts.TestID)
	}
	if opts.LearnerID != "" {
		where = append(where, "learner_id=?")
		args = append(args, opts.LearnerID)
	}
	if opts.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(opts.Status))
	}

	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	order := "started_at"
	if opts.Sort == "submitted_at" {
		order = "submitted_at"
	}
	q += ` ORDER BY ` + order + ` DESC, id DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(opts.Offset, 0))

	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.attempt()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLStore) Ledger(ctx context.Context, testID, learnerID string) (LedgerEntry, error) {
	l := LedgerEntry{TestID: testID, LearnerID: learnerID}
	if err := s.db.GetContext(ctx, &l.Used, s.db.Rebind(`SELECT COUNT(*) FROM attempts
		WHERE test_id=? AND learner_id=? AND status<>?`), testID, learnerID, string(StatusInProgress)); err != nil {
		return LedgerEntry{}, err
	}
	err := s.db.GetContext(ctx, &l.ActiveAttemptID, s.db.Rebind(`SELECT id FROM attempts
		WHERE test_id=? AND learner_id=? AND status=?`), testID, learnerID, string(StatusInProgress))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, err
	}
	return l, nil
}

func (s *SQLStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT id FROM attempts
		WHERE status=? AND deadline IS NOT NULL AND deadline<=?
		ORDER BY deadline, id LIMIT ?`), string(StatusInProgress), now.Unix(), limit)
	return ids, err
}

func unixOrNull(t *time.Time) null.Int64 {
	if t == nil {
		return null.Int64{}
	}
	return null.Int64From(t.Unix())
}

func timeOrNil(v null.Int64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
