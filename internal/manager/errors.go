package manager

import "errors"

var (
	// ErrInvalidProfile is returned for ids that are not registered.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrAlreadyActive is returned by start while a process exists.
	ErrAlreadyActive = errors.New("server is already active")
	// ErrNotActive is returned by stop, kill and send while nothing runs.
	ErrNotActive = errors.New("server is not active")
	// ErrLaunchFailure wraps the reason a start attempt was aborted.
	ErrLaunchFailure = errors.New("launch failure")
	// ErrDuplicateProfile is returned when an id is registered twice.
	ErrDuplicateProfile = errors.New("duplicate profile")
	ErrEmptyCommand     = errors.New("empty command")
	ErrInvalidCommand   = errors.New("command must be a single line")
	// ErrConfigLocked is returned by config writes under the deny policy.
	ErrConfigLocked = errors.New("config cannot be modified while server is active")
	ErrRouterClosed = errors.New("router closed")
)
