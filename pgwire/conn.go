// Package pgwire implements a minimal client-side PostgreSQL connection:
// startup and authentication, simple queries, and the send/receive primitives
// the binary COPY importer drives.
//
// See https://www.postgresql.org/docs/current/protocol-message-formats.html
package pgwire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Config describes how to reach and authenticate against the server.
type Config struct {
	Addr     string // host:port
	User     string
	Password string
	Database string

	// Timeout bounds every single network read or write. Zero means no
	// deadline.
	Timeout time.Duration

	// DialRetries is the number of dial attempts before Connect gives up.
	// Zero or one means a single attempt.
	DialRetries int
}

// ErrConnBusy is returned by Lock when another operation holds the
// connection's user-action scope.
var ErrConnBusy = errors.New("pgwire: connection busy with another operation")

// ErrConnBroken is returned for any operation on a connection marked broken.
var ErrConnBroken = errors.New("pgwire: connection is broken")

// deadlineConn applies a per-operation deadline to every read and write.
type deadlineConn struct {
	c       net.Conn
	timeout time.Duration
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.c.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.c.Write(p)
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.c.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.c.Read(p)
}

// Conn is a single client connection. It is not safe for concurrent use;
// callers serialize operations through Lock/Unlock (the user-action scope).
type Conn struct {
	cfg    Config
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	mu     sync.Mutex
	locked bool

	broken bool
	closed bool

	params map[string]string
}

// Connect dials the server and runs startup and authentication to completion.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	var d net.Dialer
	var nc net.Conn
	dial := func() error {
		var dialErr error
		nc, dialErr = d.DialContext(ctx, "tcp", cfg.Addr)
		return dialErr
	}
	var err error
	if cfg.DialRetries > 1 {
		err = retryWithBackoff(ctx, cfg.DialRetries, dial)
	} else {
		err = dial()
	}
	if err != nil {
		return nil, err
	}

	dc := &deadlineConn{c: nc, timeout: cfg.Timeout}
	c := &Conn{
		cfg:    cfg,
		conn:   nc,
		reader: bufio.NewReader(dc),
		writer: bufio.NewWriter(dc),
		params: make(map[string]string),
	}

	if err := c.startup(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return c, nil
}

func (c *Conn) startup() error {
	params := map[string]string{
		"user":            c.cfg.User,
		"client_encoding": "UTF8",
	}
	if c.cfg.Database != "" {
		params["database"] = c.cfg.Database
	}
	if err := writeStartupMessage(c.writer, params); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	if err := c.authenticate(); err != nil {
		return err
	}

	// Absorb ParameterStatus and BackendKeyData until ReadyForQuery.
	for {
		msg, err := c.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg := msg.(type) {
		case *ReadyForQuery:
			return nil
		case *ServerError:
			return msg
		default:
			return fmt.Errorf("unexpected message %T during startup", msg)
		}
	}
}

// Lock acquires the connection's exclusive user-action scope.
func (c *Conn) Lock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return ErrConnBroken
	}
	if c.locked {
		return ErrConnBusy
	}
	c.locked = true
	return nil
}

// Unlock releases the user-action scope. Unlocking an unlocked connection is
// a no-op.
func (c *Conn) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
}

// MarkBroken flags the connection as unusable after a protocol
// desynchronization. No further operations on it will succeed.
func (c *Conn) MarkBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.broken {
		c.broken = true
		slog.Warn("Connection marked broken.", "addr", c.cfg.Addr)
	}
}

// IsBroken reports whether the connection has been marked broken.
func (c *Conn) IsBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Send writes raw bytes to the output buffer without any message framing.
func (c *Conn) Send(p []byte) error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	_, err := c.writer.Write(p)
	return err
}

// SendQuery buffers a simple-query message.
func (c *Conn) SendQuery(sql string) error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	return writeQuery(c.writer, sql)
}

// SendCopyData buffers one CopyData frame wrapping p.
func (c *Conn) SendCopyData(p []byte) error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	return writeCopyData(c.writer, p)
}

// SendCopyDone buffers the end-of-copy-data message.
func (c *Conn) SendCopyDone() error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	return writeCopyDone(c.writer)
}

// SendCopyFail buffers a copy-failure message with the given reason.
func (c *Conn) SendCopyFail(reason string) error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	return writeCopyFail(c.writer, reason)
}

// Flush writes all buffered output to the network.
func (c *Conn) Flush() error {
	if c.IsBroken() {
		return ErrConnBroken
	}
	return c.writer.Flush()
}

// ReceiveMessage reads the next backend message. Asynchronous messages
// (NoticeResponse, ParameterStatus, BackendKeyData, NotificationResponse) are
// absorbed and never returned. ErrorResponse is returned as a *ServerError
// message, not as an error: the error return is reserved for transport
// failures.
func (c *Conn) ReceiveMessage() (Message, error) {
	if c.IsBroken() {
		return nil, ErrConnBroken
	}
	for {
		msgType, body, err := readRawMessage(c.reader)
		if err != nil {
			c.MarkBroken()
			return nil, err
		}

		switch msgType {
		case msgNoticeResponse:
			notice := parseErrorFields(body)
			slog.Debug("Server notice.", "severity", notice.Severity, "message", notice.Message)
		case msgParamStatus:
			c.absorbParameterStatus(body)
		case msgBackendKeyData:
			// Out-of-band CancelRequest is not supported; drop it.
		case msgNotification:
			// LISTEN/NOTIFY is not supported; drop it.
		case msgErrorResponse:
			return parseErrorFields(body), nil
		case msgCommandComplete:
			return parseCommandComplete(body), nil
		case msgReadyForQuery:
			rfq, err := parseReadyForQuery(body)
			if err != nil {
				c.MarkBroken()
				return nil, err
			}
			return rfq, nil
		case msgCopyInResponse:
			resp, err := parseCopyInResponse(body)
			if err != nil {
				c.MarkBroken()
				return nil, err
			}
			return resp, nil
		case msgCopyOutResponse:
			return &CopyOutResponse{Raw: body}, nil
		case msgRowDescription:
			return &RowDescription{Raw: body}, nil
		case msgDataRow:
			return &DataRow{Raw: body}, nil
		case msgEmptyQuery:
			return &EmptyQueryResponse{}, nil
		default:
			c.MarkBroken()
			return nil, fmt.Errorf("unexpected message type %q from server", msgType)
		}
	}
}

func (c *Conn) absorbParameterStatus(body []byte) {
	// Two null-terminated strings: name, value.
	end := 0
	for end < len(body) && body[end] != 0 {
		end++
	}
	if end >= len(body) {
		return
	}
	name := string(body[:end])
	rest := body[end+1:]
	end = 0
	for end < len(rest) && rest[end] != 0 {
		end++
	}
	c.params[name] = string(rest[:end])
}

// ParameterStatus returns the last server-reported value for a runtime
// parameter such as server_version, or "" if none was reported.
func (c *Conn) ParameterStatus(name string) string {
	return c.params[name]
}

// Exec runs sql as a simple query and returns the affected-row count from the
// last command tag. Result rows, if any, are discarded.
func (c *Conn) Exec(ctx context.Context, sql string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.Lock(); err != nil {
		return 0, err
	}
	defer c.Unlock()

	if err := c.SendQuery(sql); err != nil {
		return 0, err
	}
	if err := c.Flush(); err != nil {
		c.MarkBroken()
		return 0, err
	}

	var rows int64
	var execErr error
	for {
		msg, err := c.ReceiveMessage()
		if err != nil {
			return 0, err
		}
		switch msg := msg.(type) {
		case *CommandComplete:
			rows = msg.RowsAffected()
		case *ServerError:
			execErr = msg
		case *ReadyForQuery:
			return rows, execErr
		case *RowDescription, *DataRow, *EmptyQueryResponse:
			// Exec discards result rows.
		default:
			c.MarkBroken()
			return 0, fmt.Errorf("unexpected message %T during query", msg)
		}
	}
}

// Close terminates the session and closes the socket. Safe to call more than
// once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	broken := c.broken
	c.mu.Unlock()

	var writeErr error
	if !broken {
		if err := writeTerminate(c.writer); err == nil {
			writeErr = c.writer.Flush()
		} else {
			writeErr = err
		}
	}
	closeErr := c.conn.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}
