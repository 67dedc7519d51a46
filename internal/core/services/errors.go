package services

import "errors"

// Deploy errors
var (
	ErrNoHosts       = errors.New("deploy: no hosts selected")
	ErrNoInvocations = errors.New("deploy: no tasks requested")
	ErrHostFailed    = errors.New("deploy: host failed")
)

// Orchestrator errors
var (
	ErrConflictingArgs = errors.New("task requested again with different arguments")
)

// Run errors
var (
	ErrRunNotFound = errors.New("run: not found")
)
