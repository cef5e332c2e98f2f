package exam

import "errors"

var (
	ErrTestNotFound                = errors.New("test not found")
	ErrAttemptNotFound             = errors.New("attempt not found")
	ErrAttemptLimitExceeded        = errors.New("attempt limit exceeded")
	ErrSubmissionFinalized         = errors.New("submission finalized")
	ErrSubmissionNotPendingGrading = errors.New("submission not pending grading")
	ErrInvalidPointsValue          = errors.New("invalid points value")
	ErrInvalidAnswerShape          = errors.New("invalid answer shape")
	ErrQuestionNotFound            = errors.New("question not found")
	ErrQuestionNotAnswered         = errors.New("question not answered")
	ErrNotAttemptOwner             = errors.New("not the attempt owner")
	ErrInvalidTest                 = errors.New("invalid test definition")
	ErrGradingIncomplete           = errors.New("grading incomplete")

	// ErrVersionConflict is returned by Store.UpdateAttempt when the stored
	// version moved on since the attempt was read.
	ErrVersionConflict = errors.New("attempt version conflict")
)
