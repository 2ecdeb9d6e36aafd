package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PostgreSQL message types
const (
	// Frontend (client) messages
	msgQuery     = 'Q'
	msgTerminate = 'X'
	msgPassword  = 'p' // also carries SASL responses

	// Backend (server) messages
	msgAuth            = 'R'
	msgParamStatus     = 'S'
	msgBackendKeyData  = 'K'
	msgReadyForQuery   = 'Z'
	msgRowDescription  = 'T'
	msgDataRow         = 'D'
	msgCommandComplete = 'C'
	msgErrorResponse   = 'E'
	msgNoticeResponse  = 'N'
	msgEmptyQuery      = 'I'
	msgNotification    = 'A'

	// COPY messages (both directions)
	msgCopyData        = 'd' // Contains COPY data
	msgCopyDone        = 'c' // COPY completed
	msgCopyFail        = 'f' // COPY failed (frontend only)
	msgCopyInResponse  = 'G' // Server ready to receive COPY data
	msgCopyOutResponse = 'H' // Server about to send COPY data
)

// Authentication request codes carried in 'R' messages
const (
	authOK           = 0
	authCleartextPwd = 3
	authMD5Pwd       = 5
	authSASL         = 10
	authSASLContinue = 11
	authSASLFinal    = 12
)

// Protocol version 3.0
const protocolVersion = 196608

// readRawMessage reads a single backend message from the server.
func readRawMessage(r io.Reader) (byte, []byte, error) {
	// Read message type (1 byte)
	typeBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, typeBuf); err != nil {
		return 0, nil, err
	}
	msgType := typeBuf[0]

	// Read message length (4 bytes, includes itself)
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length < 4 {
		return 0, nil, fmt.Errorf("invalid message length %d for message type %q", length, msgType)
	}

	// Read message body
	body := make([]byte, length-4)
	if length > 4 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("failed to read message body: %w", err)
		}
	}

	return msgType, body, nil
}

// writeRawMessage writes a message to the server
func writeRawMessage(w io.Writer, msgType byte, data []byte) error {
	// Write message type
	if _, err := w.Write([]byte{msgType}); err != nil {
		return err
	}

	// Write length (includes itself, 4 bytes)
	length := int32(len(data) + 4)
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}

	// Write data
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}

	return nil
}

// writeStartupMessage sends the startup packet. Unlike regular messages it
// has no type byte: just a length, the protocol version and null-terminated
// key/value parameter pairs.
func writeStartupMessage(w io.Writer, params map[string]string) error {
	buf := make([]byte, 8, 128)
	binary.BigEndian.PutUint32(buf[4:8], protocolVersion)
	for key, value := range params {
		buf = append(buf, key...)
		buf = append(buf, 0)
		buf = append(buf, value...)
		buf = append(buf, 0)
	}
	buf = append(buf, 0)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	_, err := w.Write(buf)
	return err
}

// writeQuery sends a simple query
func writeQuery(w io.Writer, sql string) error {
	data := []byte(sql)
	data = append(data, 0)
	return writeRawMessage(w, msgQuery, data)
}

// writePassword sends a cleartext or MD5 password response
func writePassword(w io.Writer, password string) error {
	data := []byte(password)
	data = append(data, 0)
	return writeRawMessage(w, msgPassword, data)
}

// writeSASLInitialResponse sends the first SASL message: the mechanism name
// followed by the length-prefixed client-first payload.
func writeSASLInitialResponse(w io.Writer, mechanism string, response []byte) error {
	data := []byte(mechanism)
	data = append(data, 0)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, uint32(len(response)))
	data = append(data, lenBytes...)
	data = append(data, response...)
	return writeRawMessage(w, msgPassword, data)
}

// writeSASLResponse sends a continuation SASL message (raw payload, no length)
func writeSASLResponse(w io.Writer, response []byte) error {
	return writeRawMessage(w, msgPassword, response)
}

// writeCopyData sends one CopyData frame
func writeCopyData(w io.Writer, data []byte) error {
	return writeRawMessage(w, msgCopyData, data)
}

// writeCopyDone signals the end of COPY data
func writeCopyDone(w io.Writer) error {
	return writeRawMessage(w, msgCopyDone, nil)
}

// writeCopyFail aborts an in-progress COPY with a reason string
func writeCopyFail(w io.Writer, reason string) error {
	data := []byte(reason)
	data = append(data, 0)
	return writeRawMessage(w, msgCopyFail, data)
}

// writeTerminate sends the session termination message
func writeTerminate(w io.Writer) error {
	return writeRawMessage(w, msgTerminate, nil)
}
