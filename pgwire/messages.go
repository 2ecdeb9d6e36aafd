package pgwire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Message is a decoded backend message as returned by Conn.ReceiveMessage.
type Message interface {
	backend()
}

// CopyInResponse reports that the server accepted a COPY FROM STDIN command
// and is ready to receive CopyData messages.
type CopyInResponse struct {
	Binary        bool
	ColumnCount   int
	ColumnFormats []int16
}

// CommandComplete reports the completion of a command with its tag,
// e.g. "COPY 3" or "TRUNCATE TABLE".
type CommandComplete struct {
	Tag string
}

// RowsAffected parses the row count out of the command tag. Tags without a
// trailing count (e.g. "TRUNCATE TABLE") report 0.
func (c *CommandComplete) RowsAffected() int64 {
	parts := strings.Fields(c.Tag)
	if len(parts) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ReadyForQuery reports that the server is ready for the next command.
// TxStatus is 'I' (idle), 'T' (in transaction) or 'E' (failed transaction).
type ReadyForQuery struct {
	TxStatus byte
}

// EmptyQueryResponse is sent in place of CommandComplete for an empty query.
type EmptyQueryResponse struct{}

// RowDescription and DataRow are carried undecoded: this driver's only query
// surface is Exec, which skips result rows.
type RowDescription struct {
	Raw []byte
}

type DataRow struct {
	Raw []byte
}

// CopyOutResponse is decoded only far enough to be recognized; COPY TO is not
// supported by this driver.
type CopyOutResponse struct {
	Raw []byte
}

// ServerError is an ErrorResponse from the server.
// See https://www.postgresql.org/docs/current/protocol-error-fields.html
type ServerError struct {
	Severity string
	Code     string // SQLSTATE
	Message  string
	Detail   string
	Hint     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s (SQLSTATE %s): %s", e.Severity, e.Code, e.Message)
}

// SQLSTATE 57014: the server canceled the query, e.g. in response to CopyFail.
const CodeQueryCanceled = "57014"

func (*CopyInResponse) backend()     {}
func (*CommandComplete) backend()    {}
func (*ReadyForQuery) backend()      {}
func (*EmptyQueryResponse) backend() {}
func (*RowDescription) backend()     {}
func (*DataRow) backend()            {}
func (*CopyOutResponse) backend()    {}
func (*ServerError) backend()        {}

// parseCopyInResponse decodes a 'G' message body:
// overall format (0=text, 1=binary), int16 column count, int16 format per column.
func parseCopyInResponse(body []byte) (*CopyInResponse, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("CopyInResponse too short: %d bytes", len(body))
	}
	resp := &CopyInResponse{
		Binary:      body[0] == 1,
		ColumnCount: int(int16(binary.BigEndian.Uint16(body[1:3]))),
	}
	if resp.ColumnCount < 0 {
		return nil, fmt.Errorf("CopyInResponse reports negative column count %d", resp.ColumnCount)
	}
	if len(body) < 3+2*resp.ColumnCount {
		return nil, fmt.Errorf("CopyInResponse truncated: %d bytes for %d columns", len(body), resp.ColumnCount)
	}
	for i := 0; i < resp.ColumnCount; i++ {
		off := 3 + 2*i
		resp.ColumnFormats = append(resp.ColumnFormats, int16(binary.BigEndian.Uint16(body[off:off+2])))
	}
	return resp, nil
}

// parseCommandComplete decodes a 'C' message body (null-terminated tag)
func parseCommandComplete(body []byte) *CommandComplete {
	tag := body
	if n := len(tag); n > 0 && tag[n-1] == 0 {
		tag = tag[:n-1]
	}
	return &CommandComplete{Tag: string(tag)}
}

// parseReadyForQuery decodes a 'Z' message body (single status byte)
func parseReadyForQuery(body []byte) (*ReadyForQuery, error) {
	if len(body) != 1 {
		return nil, fmt.Errorf("ReadyForQuery body must be 1 byte, got %d", len(body))
	}
	return &ReadyForQuery{TxStatus: body[0]}, nil
}

// parseErrorFields decodes the field list shared by ErrorResponse and
// NoticeResponse: (field type byte, null-terminated value)* terminated by a
// zero byte.
func parseErrorFields(body []byte) *ServerError {
	e := &ServerError{}
	for len(body) > 0 && body[0] != 0 {
		typ := body[0]
		body = body[1:]
		end := 0
		for end < len(body) && body[end] != 0 {
			end++
		}
		value := string(body[:end])
		if end < len(body) {
			body = body[end+1:]
		} else {
			body = nil
		}

		switch typ {
		case 'S':
			e.Severity = value
		case 'C':
			e.Code = value
		case 'M':
			e.Message = value
		case 'D':
			e.Detail = value
		case 'H':
			e.Hint = value
		}
	}
	return e
}
