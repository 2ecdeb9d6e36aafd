package copyin

import (
	"encoding/binary"
	"fmt"
)

// defaultBufferSize matches the bufio default.
const defaultBufferSize = 8192

// WriteBuffer is the importer's frame writer: a fixed-size output buffer over
// the connection with a copy-mode framing toggle. In copy mode every flush
// emits the buffered bytes as a single CopyData message; outside copy mode
// flushed bytes pass through unframed.
//
// Callers ensure space before fixed-width writes; the fixed-width writers
// never flush on their own, so a single length-prefixed column payload stays
// within one logical write.
type WriteBuffer struct {
	conn     Conn
	buf      []byte
	n        int
	copyMode bool
	flushed  int64
}

func newWriteBuffer(conn Conn, size int) *WriteBuffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &WriteBuffer{conn: conn, buf: make([]byte, size)}
}

// Remaining reports the free space left before a flush is required.
func (wb *WriteBuffer) Remaining() int {
	return len(wb.buf) - wb.n
}

// StartCopyMode switches flushes to CopyData framing.
func (wb *WriteBuffer) StartCopyMode() {
	wb.copyMode = true
}

// EndCopyMode returns flushes to unframed writes. Buffered data must be
// flushed or discarded first.
func (wb *WriteBuffer) EndCopyMode() {
	wb.copyMode = false
}

// EnsureSpace flushes the buffer if fewer than n bytes remain. n must not
// exceed the buffer size.
func (wb *WriteBuffer) EnsureSpace(n int) error {
	if n > len(wb.buf) {
		return fmt.Errorf("copyin: cannot ensure %d bytes in a %d byte buffer", n, len(wb.buf))
	}
	if wb.Remaining() < n {
		return wb.Flush()
	}
	return nil
}

// Flush sends the buffered bytes to the connection. In copy mode they are
// framed as one CopyData message.
func (wb *WriteBuffer) Flush() error {
	if wb.n == 0 {
		return nil
	}
	var err error
	if wb.copyMode {
		err = wb.conn.SendCopyData(wb.buf[:wb.n])
	} else {
		err = wb.conn.Send(wb.buf[:wb.n])
	}
	if err != nil {
		return err
	}
	wb.flushed += int64(wb.n)
	wb.n = 0
	return nil
}

// Discard drops buffered unsent bytes.
func (wb *WriteBuffer) Discard() {
	wb.n = 0
}

// Flushed reports the total bytes flushed over the buffer's lifetime.
func (wb *WriteBuffer) Flushed() int64 {
	return wb.flushed
}

func (wb *WriteBuffer) WriteByte(b byte) {
	wb.buf[wb.n] = b
	wb.n++
}

func (wb *WriteBuffer) WriteInt16(v int16) {
	binary.BigEndian.PutUint16(wb.buf[wb.n:], uint16(v))
	wb.n += 2
}

func (wb *WriteBuffer) WriteInt32(v int32) {
	binary.BigEndian.PutUint32(wb.buf[wb.n:], uint32(v))
	wb.n += 4
}

func (wb *WriteBuffer) WriteInt64(v int64) {
	binary.BigEndian.PutUint64(wb.buf[wb.n:], uint64(v))
	wb.n += 8
}

// WriteBytes writes p, flushing as often as needed. Payloads larger than the
// buffer are written in buffer-sized chunks.
func (wb *WriteBuffer) WriteBytes(p []byte) error {
	for len(p) > 0 {
		if wb.Remaining() == 0 {
			if err := wb.Flush(); err != nil {
				return err
			}
		}
		c := copy(wb.buf[wb.n:], p)
		wb.n += c
		p = p[c:]
	}
	return nil
}
