package copyin

import (
	"errors"
	"fmt"
)

// Usage errors: the caller broke the row/column contract. The underlying
// connection stays usable by other operations.
var (
	// ErrRowNotStarted is returned by Write and WriteNull before StartRow.
	ErrRowNotStarted = errors.New("copyin: no row in progress, call StartRow first")

	// ErrSessionClosed is returned by any operation on a session that has
	// been completed, cancelled or disposed.
	ErrSessionClosed = errors.New("copyin: import session is no longer usable")

	// ErrClosedMidRow is returned by Complete when the current row has fewer
	// values than the negotiated column count. The import is cancelled first;
	// a short row is never silently accepted.
	ErrClosedMidRow = errors.New("copyin: import completed mid-row, row has fewer values than columns")
)

// ColumnMismatchError reports a row-shape violation: starting a row while the
// previous one is incomplete, or writing past the negotiated column count.
type ColumnMismatchError struct {
	Expected int // negotiated column count
	Actual   int // values written so far
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("copyin: row has %d values, table has %d columns", e.Actual, e.Expected)
}

// TypeConflictError reports an explicit type override that contradicts the
// override a column was already bound with on an earlier row. This is a
// programmer error, not a data error: the importer never silently rebinds a
// pinned column.
type TypeConflictError struct {
	Column int
	Bound  uint32 // OID the column is pinned to
	Given  uint32 // conflicting OID supplied later
}

func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("copyin: column %d is bound to type OID %d, conflicting override OID %d", e.Column, e.Bound, e.Given)
}

// ProtocolError reports a protocol desynchronization: the server sent
// something the COPY state machine cannot account for. The connection is
// marked broken before this is returned.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "copyin: protocol violation: " + e.Reason
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
