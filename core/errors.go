package core

import "errors"

var (
	// ErrNoWorkers is returned by NewScheduler when numWorkers < 1.
	// The worker count is always caller-supplied; there is no default.
	ErrNoWorkers = errors.New("greensched: scheduler needs at least one worker")

	// ErrNilEntry is returned by Spawn when the entry function is nil.
	ErrNilEntry = errors.New("greensched: nil entry function")

	// ErrAlreadyStarted is returned by Start when the workers are already up.
	ErrAlreadyStarted = errors.New("greensched: scheduler already started")

	// ErrShuttingDown is returned by Spawn and SpawnAfter after Shutdown.
	ErrShuttingDown = errors.New("greensched: scheduler is shutting down")
)
