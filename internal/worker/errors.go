package worker

import (
	"errors"

	"github.com/iago/risk-reanalysis/internal/analyzer"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether a failure should skip the retry budget. An
// unregistered analysis type or an entity without input records can not
// succeed on a later attempt.
func IsPermanent(err error) bool {
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return true
	}
	return errors.Is(err, analyzer.ErrUnsupportedAnalysis) || errors.Is(err, analyzer.ErrNoRecords)
}
