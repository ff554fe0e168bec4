package voice

import "errors"

// ErrNotRunning is returned by control operations that require a started
// detector.
var ErrNotRunning = errors.New("detector not running")
