package work

import "errors"

// Errors returned by the orchestrator.
var (
	// ErrInvalidArgument is returned when a chain is malformed.
	ErrInvalidArgument = errors.New("work: invalid argument")

	// ErrEmptyChain is returned when building a chain without stages.
	ErrEmptyChain = errors.New("work: empty chain")

	// ErrDuplicateChainName is returned when submitting a chain with the
	// fail-if-exists policy while a chain of the same name is live.
	ErrDuplicateChainName = errors.New("work: duplicate chain name")

	// ErrUnknownChain is returned when querying a chain that does not exist.
	ErrUnknownChain = errors.New("work: unknown chain")

	// ErrUnknownKind is returned when no behavior is registered for a kind.
	ErrUnknownKind = errors.New("work: unknown kind")

	// ErrExecutionFailure is recorded when a behavior fails.
	ErrExecutionFailure = errors.New("work: execution failure")

	// ErrConstraintTimeout is recorded when a job waited too long for its
	// constraints.
	ErrConstraintTimeout = errors.New("work: constraint timeout")

	// ErrClosed is returned when using a closed orchestrator.
	ErrClosed = errors.New("work: orchestrator closed")
)
