package store

import "errors"

// ErrDuplicate indicates a recording identifier is already registered.
var ErrDuplicate = errors.New("recording already registered")

// ErrInvalidTransition indicates a compare-and-set transition found the
// recording in an unexpected stage. It usually means another worker won a
// claim race or completed the recording first; callers should re-query
// rather than treat it as data loss.
var ErrInvalidTransition = errors.New("invalid stage transition")
