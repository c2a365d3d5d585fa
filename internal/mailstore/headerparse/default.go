package headerparse

import (
	"bytes"
	"io"

	"github.com/emersion/go-message/mail"

	"github.com/localbox/mailstore/internal/mailstore"
)

// DefaultParseHeaders is the engine's default ParseHeaders collaborator:
// RFC 822/MIME header parsing is explicitly out of this core's scope
// (spec §1), but a concrete implementation built on
// github.com/emersion/go-message lets the engine run end-to-end without a
// host-supplied parser.
func DefaultParseHeaders(r io.Reader, email *mailstore.Email) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	email.ContentOffset = int64(headerLength(data))

	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		// Malformed headers: leave the offset computed above and
		// report no received time, rather than failing the whole parse
		// pass (spec §7 treats this as a per-entry, loggable condition).
		return nil
	}
	if date, err := mr.Header.Date(); err == nil {
		email.Received = date
	}
	return nil
}

// headerLength finds the byte offset of the first blank line separating
// headers from body, accepting both CRLF and bare-LF line endings.
func headerLength(data []byte) int {
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		return idx + 4
	}
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return idx + 2
	}
	return len(data)
}
