package expreplay

import "errors"

// ExpReplayError implements errors unique to an experience replay
// buffer.
type ExpReplayError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *ExpReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errEmptyCache = errors.New("cache empty")

var errInsufficientSamples = errors.New("fewer samples than batch size")

var errInvalidBatchSize = errors.New("batch size must be positive")

// IsEmptyBuffer returns whether or not an error reports that a replay
// buffer is empty.
func IsEmptyBuffer(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errEmptyCache
}

// IsInsufficientSamples returns whether or not an error reports that
// there are fewer samples in the buffer than the requested batch size.
func IsInsufficientSamples(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errInsufficientSamples
}

// IsInvalidBatchSize returns whether or not an error reports an
// invalid sampling batch size.
func IsInvalidBatchSize(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errInvalidBatchSize
}
