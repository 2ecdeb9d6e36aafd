package copyin

import (
	"bytes"

	"github.com/pgsink/pgsink/pgwire"
)

// mockConn is a scripted connector: Send* calls are captured, and
// ReceiveMessage returns the scripted steps in order.
type mockConn struct {
	steps []any // pgwire.Message or error

	queries   []string
	raw       bytes.Buffer
	copyData  bytes.Buffer
	frames    int
	copyDone  bool
	copyFails []string
	flushes   int

	locked  bool
	unlocks int
	broken  bool
}

func (m *mockConn) SendQuery(sql string) error {
	m.queries = append(m.queries, sql)
	return nil
}

func (m *mockConn) Send(p []byte) error {
	m.raw.Write(p)
	return nil
}

func (m *mockConn) SendCopyData(p []byte) error {
	m.copyData.Write(p)
	m.frames++
	return nil
}

func (m *mockConn) SendCopyDone() error {
	m.copyDone = true
	return nil
}

func (m *mockConn) SendCopyFail(reason string) error {
	m.copyFails = append(m.copyFails, reason)
	return nil
}

func (m *mockConn) Flush() error {
	m.flushes++
	return nil
}

func (m *mockConn) ReceiveMessage() (pgwire.Message, error) {
	if len(m.steps) == 0 {
		m.broken = true
		return nil, errUnscriptedRead
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	switch step := step.(type) {
	case pgwire.Message:
		return step, nil
	case error:
		m.broken = true
		return nil, step
	}
	panic("mockConn: bad script step")
}

func (m *mockConn) Lock() error {
	if m.locked {
		return pgwire.ErrConnBusy
	}
	m.locked = true
	return nil
}

func (m *mockConn) Unlock() {
	m.locked = false
	m.unlocks++
}

func (m *mockConn) MarkBroken() { m.broken = true }
func (m *mockConn) IsBroken() bool {
	return m.broken
}

type scriptError string

func (e scriptError) Error() string { return string(e) }

const errUnscriptedRead = scriptError("mockConn: read past end of script")

func copyAccepted(columns int) *pgwire.CopyInResponse {
	return &pgwire.CopyInResponse{Binary: true, ColumnCount: columns}
}

func queryCanceled() *pgwire.ServerError {
	return &pgwire.ServerError{Severity: "ERROR", Code: pgwire.CodeQueryCanceled, Message: "COPY from stdin failed"}
}

func ready() *pgwire.ReadyForQuery {
	return &pgwire.ReadyForQuery{TxStatus: 'I'}
}
