package shared

import "errors"

// ErrLockHeld occurs when another worker owns a distributed lock.
var ErrLockHeld = errors.New("lock held by another worker")
