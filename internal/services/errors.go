package services

import "errors"

var (
	// ErrChainLocked is returned when a start request races an in-flight run.
	// Start requests are rejected, never queued.
	ErrChainLocked = errors.New("processing chain is locked by a running acquisition")

	// ErrChainBlocked marks a chain whose execution blockers keep it out of
	// automatic starts. A manual start clears the blockers and proceeds.
	ErrChainBlocked = errors.New("processing chain has unresolved execution blockers")

	ErrChainNotFound = errors.New("processing chain not found")
	ErrChainInactive = errors.New("processing chain is not active")

	// ErrChainBusy guards deletion: a chain cannot be removed while active,
	// locked or still owning job runs.
	ErrChainBusy = errors.New("processing chain is active, locked or has running jobs")
)
