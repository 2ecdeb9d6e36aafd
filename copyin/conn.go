package copyin

import "github.com/pgsink/pgsink/pgwire"

// Conn is the narrow connection contract the importer drives. *pgwire.Conn
// implements it; tests substitute a scripted mock.
//
// Send* methods buffer; nothing reaches the network until Flush. Lock
// acquires the connection's exclusive user-action scope for the whole import,
// and MarkBroken flags the connection after a protocol desynchronization.
type Conn interface {
	SendQuery(sql string) error
	Send(p []byte) error
	SendCopyData(p []byte) error
	SendCopyDone() error
	SendCopyFail(reason string) error
	Flush() error
	ReceiveMessage() (pgwire.Message, error)

	Lock() error
	Unlock()
	MarkBroken()
	IsBroken() bool
}
