// Package copyin implements the client side of PostgreSQL's binary COPY FROM
// protocol: a row-oriented bulk import over an existing connection.
//
// A session is started with Begin, which issues the COPY command and
// negotiates the column count. Rows are then written with StartRow followed
// by one Write or WriteNull per column (or WriteRow for a whole row), and the
// import is finished with Complete. Close releases the connection and must
// always be called; calling it on an unfinished session cancels the import.
package copyin

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgsink/pgsink/pgwire"
)

// Binary COPY header: signature, int32 flags (0: no OIDs), int32 header
// extension length (0).
var copySignature = []byte{'P', 'G', 'C', 'O', 'P', 'Y', '\n', 0xff, '\r', '\n', 0x00}

const copyFailReason = "COPY terminated by client"

type sessionState int

const (
	stateReady sessionState = iota
	stateCommitted
	stateCancelled
	stateDisposed
)

func (s sessionState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateCommitted:
		return "committed"
	case stateCancelled:
		return "cancelled"
	case stateDisposed:
		return "disposed"
	}
	return "unknown"
}

// Importer is a binary COPY FROM session. It holds the connection's
// user-action scope exclusively from Begin until Close and is not safe for
// concurrent use.
type Importer struct {
	conn   Conn
	wb     *WriteBuffer
	binder *binder

	columns int
	// cursor is -1 with no row in progress, otherwise the number of values
	// written to the current row.
	cursor int
	slots  []*columnSlot

	state    sessionState
	released bool
	rows     int64
}

// Begin issues sql (a COPY ... FROM STDIN BINARY command) on conn and opens
// an import session. On success the importer owns the connection until Close.
//
// Context is honored at call boundaries only: once a protocol exchange has
// started it runs to completion or failure, because an interrupted frame
// would desynchronize the connection.
func Begin(ctx context.Context, conn Conn, sql string) (*Importer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := conn.Lock(); err != nil {
		return nil, err
	}
	imp, err := begin(conn, sql)
	if err != nil {
		conn.Unlock()
		return nil, err
	}
	return imp, nil
}

func begin(conn Conn, sql string) (*Importer, error) {
	if err := conn.SendQuery(sql); err != nil {
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		conn.MarkBroken()
		return nil, err
	}

	msg, err := conn.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	switch msg := msg.(type) {
	case *pgwire.CopyInResponse:
		if !msg.Binary {
			// The server accepted a text-format COPY; bail out of it before
			// reporting the usage error.
			if err := cancelCopy(conn); err != nil {
				return nil, err
			}
			return nil, errors.New("copyin: COPY command must specify the BINARY format")
		}
		imp := &Importer{
			conn:    conn,
			wb:      newWriteBuffer(conn, defaultBufferSize),
			binder:  newBinder(),
			columns: msg.ColumnCount,
			cursor:  -1,
			slots:   make([]*columnSlot, msg.ColumnCount),
		}
		imp.wb.StartCopyMode()
		if err := imp.wb.EnsureSpace(len(copySignature) + 8); err != nil {
			return nil, err
		}
		if err := imp.wb.WriteBytes(copySignature); err != nil {
			return nil, err
		}
		imp.wb.WriteInt32(0) // flags
		imp.wb.WriteInt32(0) // header extension length
		observeSessionStarted()
		return imp, nil

	case *pgwire.CommandComplete:
		// COPY ... FROM 'file' runs entirely on the server and never enters
		// copy mode.
		if err := drainReadyForQuery(conn); err != nil {
			return nil, err
		}
		return nil, errors.New("copyin: command completed without entering COPY mode; use Exec for server-side COPY FROM file")

	case *pgwire.ServerError:
		if err := drainReadyForQuery(conn); err != nil {
			return nil, err
		}
		return nil, msg

	default:
		conn.MarkBroken()
		return nil, protocolErrorf("unexpected %T in response to COPY command", msg)
	}
}

// ColumnCount reports the column count the server negotiated for this import.
func (i *Importer) ColumnCount() int {
	return i.columns
}

func (i *Importer) usable(ctx context.Context) error {
	if i.state != stateReady {
		return fmt.Errorf("%w (state %s)", ErrSessionClosed, i.state)
	}
	return ctx.Err()
}

// StartRow begins a new row. The previous row, if any, must have received
// exactly the negotiated number of values.
func (i *Importer) StartRow(ctx context.Context) error {
	if err := i.usable(ctx); err != nil {
		return err
	}
	if i.cursor != -1 && i.cursor != i.columns {
		return &ColumnMismatchError{Expected: i.columns, Actual: i.cursor}
	}
	if err := i.wb.EnsureSpace(2); err != nil {
		return i.writeFailed(err)
	}
	i.wb.WriteInt16(int16(i.columns))
	i.cursor = 0
	return nil
}

// Write encodes v as the next column of the current row. An optional type
// hint pins the column's type; the hint must agree with any hint the column
// was bound with on an earlier row. A nil v is written as NULL.
func (i *Importer) Write(ctx context.Context, v any, hints ...TypeHint) error {
	if err := i.usable(ctx); err != nil {
		return err
	}
	if i.cursor == -1 {
		return ErrRowNotStarted
	}
	if i.cursor >= i.columns {
		return &ColumnMismatchError{Expected: i.columns, Actual: i.cursor + 1}
	}
	if v == nil {
		return i.writeNull()
	}

	var hint TypeHint
	for _, h := range hints {
		if h.oid != 0 {
			hint.oid = h.oid
		}
		if h.name != "" {
			hint.name = h.name
		}
	}

	slot := i.slot(i.cursor)
	enc, err := i.binder.resolve(slot, i.cursor, v, hint)
	if err != nil {
		return err
	}

	slot.lc.Clear()
	n, err := enc.Length(v, &slot.lc)
	if err != nil && i.binder.rebind(slot, v) {
		// The column was bound by inference and the value's shape changed;
		// re-infer and try once more.
		enc = slot.enc
		slot.lc.Clear()
		n, err = enc.Length(v, &slot.lc)
	}
	if err != nil {
		return fmt.Errorf("copyin: column %d: %w", i.cursor, err)
	}

	slot.lc.Rewind()
	if err := i.wb.EnsureSpace(4); err != nil {
		return i.writeFailed(err)
	}
	i.wb.WriteInt32(int32(n))
	if err := enc.Write(v, i.wb, &slot.lc); err != nil {
		return i.writeFailed(err)
	}
	i.cursor++
	return nil
}

// WriteNull writes a NULL as the next column of the current row.
func (i *Importer) WriteNull(ctx context.Context) error {
	if err := i.usable(ctx); err != nil {
		return err
	}
	if i.cursor == -1 {
		return ErrRowNotStarted
	}
	if i.cursor >= i.columns {
		return &ColumnMismatchError{Expected: i.columns, Actual: i.cursor + 1}
	}
	return i.writeNull()
}

func (i *Importer) writeNull() error {
	if err := i.wb.EnsureSpace(4); err != nil {
		return i.writeFailed(err)
	}
	i.wb.WriteInt32(-1)
	i.cursor++
	return nil
}

// WriteRow writes a complete row: StartRow followed by one Write per value.
func (i *Importer) WriteRow(ctx context.Context, values ...any) error {
	if err := i.StartRow(ctx); err != nil {
		return err
	}
	for _, v := range values {
		if err := i.Write(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// slot returns the column's binding slot, creating it on first use.
func (i *Importer) slot(col int) *columnSlot {
	if i.slots[col] == nil {
		i.slots[col] = &columnSlot{}
	}
	return i.slots[col]
}

// Complete finishes the import and returns the server-reported row count.
// Calling it with a partially written row cancels the import and fails: a
// short row is never silently committed.
func (i *Importer) Complete(ctx context.Context) (int64, error) {
	if err := i.usable(ctx); err != nil {
		return 0, err
	}

	if i.cursor != -1 && i.cursor != i.columns {
		cancelErr := i.cancel()
		i.dispose()
		if cancelErr != nil {
			return 0, errors.Join(ErrClosedMidRow, cancelErr)
		}
		return 0, ErrClosedMidRow
	}

	if err := i.wb.EnsureSpace(2); err != nil {
		return 0, i.writeFailed(err)
	}
	i.wb.WriteInt16(-1) // trailer
	if err := i.wb.Flush(); err != nil {
		return 0, i.writeFailed(err)
	}
	i.wb.EndCopyMode()
	if err := i.conn.SendCopyDone(); err != nil {
		return 0, i.writeFailed(err)
	}
	if err := i.conn.Flush(); err != nil {
		return 0, i.writeFailed(err)
	}

	msg, err := i.conn.ReceiveMessage()
	if err != nil {
		i.dispose()
		return 0, err
	}
	switch msg := msg.(type) {
	case *pgwire.CommandComplete:
		rows := msg.RowsAffected()
		next, err := i.conn.ReceiveMessage()
		if err != nil {
			i.dispose()
			return 0, err
		}
		if _, ok := next.(*pgwire.ReadyForQuery); !ok {
			i.conn.MarkBroken()
			i.dispose()
			return 0, protocolErrorf("expected ReadyForQuery after COPY completion, got %T", next)
		}
		i.state = stateCommitted
		i.rows = rows
		return rows, nil

	case *pgwire.ServerError:
		// The server rejected the data (constraint violation, bad encoding,
		// ...). The connection itself is fine once ReadyForQuery is consumed.
		if drainErr := drainReadyForQuery(i.conn); drainErr != nil {
			i.dispose()
			return 0, drainErr
		}
		i.dispose()
		return 0, msg

	default:
		i.conn.MarkBroken()
		i.dispose()
		return 0, protocolErrorf("expected CommandComplete after COPY completion, got %T", msg)
	}
}

// Cancel aborts the import. The session becomes unusable but the connection
// survives when the server acknowledges the abort correctly; Close must still
// be called to release it.
func (i *Importer) Cancel(ctx context.Context) error {
	if err := i.usable(ctx); err != nil {
		return err
	}
	if err := i.cancel(); err != nil {
		i.dispose()
		return err
	}
	return nil
}

// cancel aborts the in-progress COPY at the protocol level.
func (i *Importer) cancel() error {
	i.state = stateCancelled
	i.wb.Discard()
	i.wb.EndCopyMode()
	return cancelCopy(i.conn)
}

// cancelCopy sends CopyFail and verifies the server's acknowledgment. The
// only acceptable answer is an ErrorResponse with the query-canceled code: a
// clean message here would mean the connection is desynchronized, so anything
// else breaks it.
func cancelCopy(conn Conn) error {
	if err := conn.SendCopyFail(copyFailReason); err != nil {
		conn.MarkBroken()
		return err
	}
	if err := conn.Flush(); err != nil {
		conn.MarkBroken()
		return err
	}

	msg, err := conn.ReceiveMessage()
	if err != nil {
		return err
	}
	se, ok := msg.(*pgwire.ServerError)
	if !ok {
		conn.MarkBroken()
		return protocolErrorf("expected query-canceled error in response to CopyFail, got %T", msg)
	}
	if se.Code != pgwire.CodeQueryCanceled {
		conn.MarkBroken()
		return protocolErrorf("expected query-canceled error in response to CopyFail, got SQLSTATE %s: %s", se.Code, se.Message)
	}
	return drainReadyForQuery(conn)
}

// drainReadyForQuery consumes the ReadyForQuery that closes a command cycle.
func drainReadyForQuery(conn Conn) error {
	msg, err := conn.ReceiveMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(*pgwire.ReadyForQuery); !ok {
		conn.MarkBroken()
		return protocolErrorf("expected ReadyForQuery, got %T", msg)
	}
	return nil
}

// writeFailed handles a transport failure while writing copy data. The
// connection cannot be trusted afterwards.
func (i *Importer) writeFailed(err error) error {
	i.conn.MarkBroken()
	i.dispose()
	return err
}

// Close releases the connection and finalizes the session. From a live
// session it cancels the import first. Idempotent: every call after the
// first is a no-op.
func (i *Importer) Close(ctx context.Context) error {
	switch i.state {
	case stateDisposed:
		return nil
	case stateCommitted, stateCancelled:
		i.dispose()
		return nil
	}
	err := i.cancel()
	i.dispose()
	return err
}

// dispose finalizes the session and releases the connection exactly once.
func (i *Importer) dispose() {
	if i.state != stateDisposed {
		outcome := "failed"
		switch i.state {
		case stateCommitted:
			outcome = "committed"
		case stateCancelled:
			outcome = "cancelled"
		}
		observeSessionFinished(outcome, i.rows, i.wb.Flushed())
	}
	i.state = stateDisposed
	if !i.released {
		i.released = true
		i.conn.Unlock()
	}
}
