package pgwire

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/xdg-go/scram"
)

const scramSHA256 = "SCRAM-SHA-256"

// md5Password computes the response to an MD5 authentication request:
// "md5" + hex(md5(hex(md5(password + user)) + salt)).
func md5Password(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt...))
	return "md5" + hex.EncodeToString(outer[:])
}

// authenticate runs the authentication loop after the startup message has
// been sent, until the server reports AuthenticationOk.
func (c *Conn) authenticate() error {
	for {
		msgType, body, err := readRawMessage(c.reader)
		if err != nil {
			return err
		}
		switch msgType {
		case msgErrorResponse:
			return parseErrorFields(body)
		case msgAuth:
		default:
			return fmt.Errorf("expected authentication request, got message %q", msgType)
		}

		if len(body) < 4 {
			return fmt.Errorf("authentication request too short: %d bytes", len(body))
		}
		code := binary.BigEndian.Uint32(body[:4])

		switch code {
		case authOK:
			return nil
		case authCleartextPwd:
			if err := writePassword(c.writer, c.cfg.Password); err != nil {
				return err
			}
			if err := c.writer.Flush(); err != nil {
				return err
			}
		case authMD5Pwd:
			if len(body) < 8 {
				return fmt.Errorf("MD5 authentication request missing salt")
			}
			if err := writePassword(c.writer, md5Password(c.cfg.User, c.cfg.Password, body[4:8])); err != nil {
				return err
			}
			if err := c.writer.Flush(); err != nil {
				return err
			}
		case authSASL:
			if err := c.authSCRAM(body[4:]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported authentication request code %d", code)
		}
	}
}

// authSCRAM performs a SCRAM-SHA-256 exchange. mechanisms is the
// null-terminated mechanism list from the AuthenticationSASL request.
func (c *Conn) authSCRAM(mechanisms []byte) error {
	supported := false
	for _, m := range bytes.Split(mechanisms, []byte{0}) {
		if string(m) == scramSHA256 {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("server offers no supported SASL mechanism (want %s)", scramSHA256)
	}

	client, err := scram.SHA256.NewClient(c.cfg.User, c.cfg.Password, "")
	if err != nil {
		return err
	}
	conv := client.NewConversation()

	first, err := conv.Step("")
	if err != nil {
		return err
	}
	if err := writeSASLInitialResponse(c.writer, scramSHA256, []byte(first)); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	serverFirst, err := c.readSASLChallenge(authSASLContinue)
	if err != nil {
		return err
	}
	second, err := conv.Step(string(serverFirst))
	if err != nil {
		return err
	}
	if err := writeSASLResponse(c.writer, []byte(second)); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	serverFinal, err := c.readSASLChallenge(authSASLFinal)
	if err != nil {
		return err
	}
	if _, err := conv.Step(string(serverFinal)); err != nil {
		return err
	}
	return nil
}

// readSASLChallenge reads an authentication request carrying the given SASL
// code and returns its payload.
func (c *Conn) readSASLChallenge(wantCode uint32) ([]byte, error) {
	msgType, body, err := readRawMessage(c.reader)
	if err != nil {
		return nil, err
	}
	if msgType == msgErrorResponse {
		return nil, parseErrorFields(body)
	}
	if msgType != msgAuth || len(body) < 4 {
		return nil, fmt.Errorf("expected SASL challenge, got message %q", msgType)
	}
	code := binary.BigEndian.Uint32(body[:4])
	if code != wantCode {
		return nil, fmt.Errorf("expected SASL authentication code %d, got %d", wantCode, code)
	}
	return body[4:], nil
}
