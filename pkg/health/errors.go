package health

import "errors"

// ErrBacklog is returned by Backlog checks over their limit.
var ErrBacklog = errors.New("health: backlog over limit")
