package engine

import (
	"fmt"

	"github.com/btcforks/forksim/internal/metrics"
	"github.com/btcforks/forksim/internal/reunion"
)

// maxDiagnosticSnapshots bounds how many trailing snapshots an
// InvariantViolation carries for postmortem inspection.
const maxDiagnosticSnapshots = 100

// InvariantViolation is spec.md §7's fatal, detection-time error class.
// checkInvariants raises it for a negative cumulative work on either fork
// or negative portfolio holdings; block heights are not checked for
// duplicates. It aborts the run immediately rather than degrading,
// carrying the last snapshots recorded so far for diagnosis.
type InvariantViolation struct {
	Check         string
	Detail        string
	LastSnapshots []metrics.Snapshot
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("engine: invariant violation (%s): %s", e.Check, e.Detail)
}

func lastSnapshots(all []metrics.Snapshot) []metrics.Snapshot {
	if len(all) <= maxDiagnosticSnapshots {
		out := make([]metrics.Snapshot, len(all))
		copy(out, all)
		return out
	}
	out := make([]metrics.Snapshot, maxDiagnosticSnapshots)
	copy(out, all[len(all)-maxDiagnosticSnapshots:])
	return out
}

// Exit codes per spec.md §6: 0 success, 1 fatal error, 2 reunion timeout.
const (
	ExitOK             = 0
	ExitFatalError     = 1
	ExitReunionTimeout = 2
)

// ExitCode maps a terminal Run error to the process exit code spec.md §6
// documents. A nil err is success; a *reunion.TimeoutError is the one
// error class that gets its own code rather than the generic fatal one.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if _, ok := err.(*reunion.TimeoutError); ok {
		return ExitReunionTimeout
	}
	return ExitFatalError
}
