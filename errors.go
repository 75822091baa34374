package tensoralloc

import "errors"

// Error kinds surfaced by the allocator core. All are recoverable: callers
// get a failure return at the call site, never a panic, and the pool is
// left in a consistent state on every error path.
var (
	// ErrOutOfMemory means the source refused a fresh range and no free
	// range could satisfy the request.
	ErrOutOfMemory = errors.New("tensoralloc: out of memory")

	// ErrUnknownRange means a free/release call named a (base, size) pair
	// that isn't in the used list.
	ErrUnknownRange = errors.New("tensoralloc: unknown range")

	// ErrPlanMiss means a heuristic allocation was requested for a tensor
	// id that isn't in the loaded plan.
	ErrPlanMiss = errors.New("tensoralloc: tensor id not in heuristic plan")

	// ErrBudgetExceeded means a shrink target is smaller than the
	// re-packed live footprint of the tensors being moved.
	ErrBudgetExceeded = errors.New("tensoralloc: shrink budget exceeded")

	// ErrContractViolation covers misuse of the barrier/group protocol or
	// the heuristic adapt/disable window. A double free or a free of an
	// unowned range is not reported with it: Pool.Free returns false and
	// Backend.OnReleaseBuffer returns ErrUnknownRange.
	ErrContractViolation = errors.New("tensoralloc: contract violation")
)
