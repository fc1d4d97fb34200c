package supervisor

import "errors"

var (
	// ErrConfigNotFound means the simulation config file does not exist on
	// disk. Nothing is spawned.
	ErrConfigNotFound = errors.New("simulation config file not found")

	// ErrModelNotFound means a reinforcement-control model was requested
	// but its file does not exist. This is a hard failure rather than a
	// silent fallback: running without the intended controller would be a
	// correctness surprise to the operator.
	ErrModelNotFound = errors.New("control model file not found")

	// ErrSpawn means the OS failed to create the process.
	ErrSpawn = errors.New("failed to spawn simulator process")

	// ErrNoProcess means a command or signal was issued with no live
	// simulator process. Surfaced to callers explicitly, never swallowed.
	ErrNoProcess = errors.New("no live simulator process")
)
