package codesync

import "errors"

// ErrCancelled is returned for edits from a sender that has been cancelled.
var ErrCancelled = errors.New("sender has disconnected")
