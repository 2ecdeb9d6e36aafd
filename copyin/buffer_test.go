package copyin

import (
	"bytes"
	"testing"
)

func TestWriteBufferEnsureSpace(t *testing.T) {
	t.Run("flushes only when space runs out", func(t *testing.T) {
		conn := &mockConn{}
		wb := newWriteBuffer(conn, 8)
		wb.StartCopyMode()

		if err := wb.EnsureSpace(4); err != nil {
			t.Fatal(err)
		}
		wb.WriteInt32(1)
		if conn.frames != 0 {
			t.Errorf("frames = %d, want 0 before the buffer fills", conn.frames)
		}

		if err := wb.EnsureSpace(8); err != nil {
			t.Fatal(err)
		}
		wb.WriteInt64(2)
		if conn.frames != 1 {
			t.Errorf("frames = %d, want 1 after an insufficient-space flush", conn.frames)
		}
		if got := conn.copyData.Bytes(); !bytes.Equal(got, []byte{0, 0, 0, 1}) {
			t.Errorf("first frame = % x, want 00 00 00 01", got)
		}
	})

	t.Run("rejects requests larger than the buffer", func(t *testing.T) {
		wb := newWriteBuffer(&mockConn{}, 8)
		if err := wb.EnsureSpace(9); err == nil {
			t.Error("EnsureSpace(9) on an 8 byte buffer should fail")
		}
	})
}

func TestWriteBufferCopyModeFraming(t *testing.T) {
	conn := &mockConn{}
	wb := newWriteBuffer(conn, 16)

	wb.WriteInt16(7)
	if err := wb.Flush(); err != nil {
		t.Fatal(err)
	}
	if conn.frames != 0 {
		t.Errorf("frames = %d, want 0 outside copy mode", conn.frames)
	}
	if got := conn.raw.Bytes(); !bytes.Equal(got, []byte{0, 7}) {
		t.Errorf("raw bytes = % x, want 00 07", got)
	}

	wb.StartCopyMode()
	wb.WriteInt16(8)
	if err := wb.Flush(); err != nil {
		t.Fatal(err)
	}
	if conn.frames != 1 {
		t.Errorf("frames = %d, want 1 in copy mode", conn.frames)
	}
	if got := conn.copyData.Bytes(); !bytes.Equal(got, []byte{0, 8}) {
		t.Errorf("copy data = % x, want 00 08", got)
	}

	if wb.Flushed() != 4 {
		t.Errorf("Flushed() = %d, want 4", wb.Flushed())
	}
}

func TestWriteBufferWriteBytes(t *testing.T) {
	conn := &mockConn{}
	wb := newWriteBuffer(conn, 4)
	wb.StartCopyMode()

	payload := []byte("0123456789")
	if err := wb.WriteBytes(payload); err != nil {
		t.Fatal(err)
	}
	if err := wb.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := conn.copyData.Bytes(); !bytes.Equal(got, payload) {
		t.Errorf("copy data = %q, want %q", got, payload)
	}
	if conn.frames != 3 {
		t.Errorf("frames = %d, want 3 for a 10 byte payload over a 4 byte buffer", conn.frames)
	}
}

func TestWriteBufferDiscard(t *testing.T) {
	conn := &mockConn{}
	wb := newWriteBuffer(conn, 16)
	wb.StartCopyMode()

	wb.WriteInt32(42)
	wb.Discard()
	if err := wb.Flush(); err != nil {
		t.Fatal(err)
	}
	if conn.frames != 0 {
		t.Errorf("frames = %d, want 0 after Discard", conn.frames)
	}
}
