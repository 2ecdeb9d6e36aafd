package pgwire

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakeBackend runs handler on the first accepted connection and returns the
// listen address.
func fakeBackend(t *testing.T, handler func(net.Conn) error) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		errCh <- handler(conn)
	}()
	t.Cleanup(func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, io.EOF) {
				t.Errorf("backend error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("backend did not finish")
		}
	})
	return ln.Addr().String()
}

// readStartup consumes the startup packet and returns its parameters.
func readStartup(conn net.Conn) (map[string]string, error) {
	var length int32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	params := make(map[string]string)
	data := body[4:] // skip protocol version
	for len(data) > 1 {
		end := 0
		for end < len(data) && data[end] != 0 {
			end++
		}
		key := string(data[:end])
		data = data[end+1:]
		end = 0
		for end < len(data) && data[end] != 0 {
			end++
		}
		if key != "" {
			params[key] = string(data[:end])
		}
		data = data[end+1:]
	}
	return params, nil
}

func sendAuthRequest(conn net.Conn, code uint32, extra []byte) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, code)
	return writeRawMessage(conn, msgAuth, append(body, extra...))
}

func sendParameterStatus(conn net.Conn, name, value string) error {
	body := append([]byte(name), 0)
	body = append(body, value...)
	body = append(body, 0)
	return writeRawMessage(conn, msgParamStatus, body)
}

func sendReadyForQuery(conn net.Conn) error {
	return writeRawMessage(conn, msgReadyForQuery, []byte{'I'})
}

func sendCommandComplete(conn net.Conn, tag string) error {
	return writeRawMessage(conn, msgCommandComplete, append([]byte(tag), 0))
}

func sendNotice(conn net.Conn, message string) error {
	body := append([]byte{'S'}, "NOTICE"...)
	body = append(body, 0, 'M')
	body = append(body, message...)
	body = append(body, 0, 0)
	return writeRawMessage(conn, msgNoticeResponse, body)
}

func finishStartup(conn net.Conn) error {
	if err := sendAuthRequest(conn, authOK, nil); err != nil {
		return err
	}
	if err := sendParameterStatus(conn, "server_version", "16.3"); err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint32(key[:4], 41)
	binary.BigEndian.PutUint32(key[4:], 42)
	if err := writeRawMessage(conn, msgBackendKeyData, key); err != nil {
		return err
	}
	return sendReadyForQuery(conn)
}

func TestConnect(t *testing.T) {
	addr := fakeBackend(t, func(conn net.Conn) error {
		params, err := readStartup(conn)
		if err != nil {
			return err
		}
		if params["user"] != "alice" || params["database"] != "app" {
			t.Errorf("startup params = %v", params)
		}
		if err := finishStartup(conn); err != nil {
			return err
		}
		_, _, err = readRawMessage(conn) // wait for Terminate
		return err
	})

	c, err := Connect(context.Background(), Config{
		Addr:     addr,
		User:     "alice",
		Database: "app",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := c.ParameterStatus("server_version"); got != "16.3" {
		t.Errorf("server_version = %q, want 16.3", got)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestConnectCleartextPassword(t *testing.T) {
	addr := fakeBackend(t, func(conn net.Conn) error {
		if _, err := readStartup(conn); err != nil {
			return err
		}
		if err := sendAuthRequest(conn, authCleartextPwd, nil); err != nil {
			return err
		}
		msgType, body, err := readRawMessage(conn)
		if err != nil {
			return err
		}
		if msgType != msgPassword || string(body) != "hunter2\x00" {
			t.Errorf("password message = %q %q", msgType, body)
		}
		if err := finishStartup(conn); err != nil {
			return err
		}
		_, _, err = readRawMessage(conn)
		return err
	})

	c, err := Connect(context.Background(), Config{
		Addr:     addr,
		User:     "alice",
		Password: "hunter2",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Close()
}

func TestExec(t *testing.T) {
	addr := fakeBackend(t, func(conn net.Conn) error {
		if _, err := readStartup(conn); err != nil {
			return err
		}
		if err := finishStartup(conn); err != nil {
			return err
		}
		msgType, body, err := readRawMessage(conn)
		if err != nil {
			return err
		}
		if msgType != msgQuery || string(body) != "DELETE FROM t\x00" {
			t.Errorf("query message = %q %q", msgType, body)
		}
		if err := sendNotice(conn, "something advisory"); err != nil {
			return err
		}
		if err := sendCommandComplete(conn, "DELETE 5"); err != nil {
			return err
		}
		if err := sendReadyForQuery(conn); err != nil {
			return err
		}
		_, _, err = readRawMessage(conn)
		return err
	})

	c, err := Connect(context.Background(), Config{Addr: addr, User: "alice", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	rows, err := c.Exec(context.Background(), "DELETE FROM t")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if rows != 5 {
		t.Errorf("Exec() = %d, want 5", rows)
	}
}

func TestExecServerError(t *testing.T) {
	addr := fakeBackend(t, func(conn net.Conn) error {
		if _, err := readStartup(conn); err != nil {
			return err
		}
		if err := finishStartup(conn); err != nil {
			return err
		}
		if _, _, err := readRawMessage(conn); err != nil {
			return err
		}
		body := append([]byte{'S'}, "ERROR"...)
		body = append(body, 0, 'C')
		body = append(body, "42601"...)
		body = append(body, 0, 'M')
		body = append(body, "syntax error"...)
		body = append(body, 0, 0)
		if err := writeRawMessage(conn, msgErrorResponse, body); err != nil {
			return err
		}
		if err := sendReadyForQuery(conn); err != nil {
			return err
		}
		_, _, err := readRawMessage(conn)
		return err
	})

	c, err := Connect(context.Background(), Config{Addr: addr, User: "alice", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Exec(context.Background(), "SELEC 1")
	var se *ServerError
	if !errors.As(err, &se) || se.Code != "42601" {
		t.Fatalf("Exec() error = %v, want SQLSTATE 42601", err)
	}
	if c.IsBroken() {
		t.Error("a server error should not break the connection")
	}
}

func TestLock(t *testing.T) {
	c := &Conn{}
	if err := c.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if err := c.Lock(); !errors.Is(err, ErrConnBusy) {
		t.Errorf("second Lock() error = %v, want ErrConnBusy", err)
	}
	c.Unlock()
	if err := c.Lock(); err != nil {
		t.Errorf("Lock() after Unlock error = %v", err)
	}
	c.Unlock()

	c.MarkBroken()
	if err := c.Lock(); !errors.Is(err, ErrConnBroken) {
		t.Errorf("Lock() on broken conn error = %v, want ErrConnBroken", err)
	}
}
