package exam

import (
	"context"
	"time"
)

// StartRequest carries everything the ledger needs to create an attempt in
// a single check-and-create step.
type StartRequest struct {
	ID          string
	TestID      string
	LearnerID   string
	MaxAttempts int
	StartedAt   time.Time
	Deadline    *time.Time
}

type AttemptListOpts struct {
	TestID    string // filter by test
	LearnerID string // filter by learner
	Status    Status // optional
	Limit     int
	Offset    int
	Sort      string // started_at|submitted_at desc (default: started_at desc)
}

// TestReader is the read side of test storage. The cache package decorates
// it.
type TestReader interface {
	GetTest(ctx context.Context, id string) (TestDefinition, error)
}

type Store interface {
	TestReader
	PutTest(ctx context.Context, t TestDefinition) error

	// StartAttempt returns the in-progress attempt for the pair if one
	// exists (resumed=true). Otherwise it creates attempt number used+1, or
	// fails with ErrAttemptLimitExceeded. The check and the insert are
	// atomic with respect to concurrent callers.
	StartAttempt(ctx context.Context, req StartRequest) (a Attempt, resumed bool, err error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// UpdateAttempt writes a if the stored version still equals a.Version,
	// then bumps a.Version. Otherwise it returns ErrVersionConflict.
	UpdateAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)

	// Ledger reports usage for one pair. MaxAttempts is left for the caller.
	Ledger(ctx context.Context, testID, learnerID string) (LedgerEntry, error)
	// ListOverdue returns ids of in-progress attempts whose deadline is at or
	// before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error)
}
