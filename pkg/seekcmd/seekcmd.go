// Package seekcmd recognizes and parses the in-band seek directive that
// repositions a connection's read cursor instead of being logged.
package seekcmd

import (
	"bytes"
	"errors"
	"strconv"
)

// Prefix is the 19-byte literal that marks a record as a seek directive.
const Prefix = "AESDCHAR_IOCSEEKTO:"

// ErrMalformed reports a directive whose argument bytes do not parse as two
// comma-separated decimal unsigned integers.
var ErrMalformed = errors.New("seekcmd: malformed seek directive")

// SeekTo addresses a position in the log by record and byte within record.
// WriteCmd is the logical index of a present record, oldest first.
type SeekTo struct {
	WriteCmd       uint32
	WriteCmdOffset uint32
}

// IsDirective reports whether a complete record carries the directive prefix.
func IsDirective(rec []byte) bool {
	return bytes.HasPrefix(rec, []byte(Prefix))
}

// Parse extracts the (write_cmd, write_cmd_offset) pair from a complete
// newline-terminated directive record. Missing fields, extra fields, or
// non-decimal bytes yield ErrMalformed.
func Parse(rec []byte) (SeekTo, error) {
	if !IsDirective(rec) {
		return SeekTo{}, ErrMalformed
	}
	args := rec[len(Prefix):]
	if n := len(args); n > 0 && args[n-1] == '\n' {
		args = args[:n-1]
	}

	cmdStr, offStr, found := bytes.Cut(args, []byte{','})
	if !found || bytes.IndexByte(offStr, ',') >= 0 {
		return SeekTo{}, ErrMalformed
	}

	cmd, err := strconv.ParseUint(string(cmdStr), 10, 32)
	if err != nil {
		return SeekTo{}, ErrMalformed
	}
	off, err := strconv.ParseUint(string(offStr), 10, 32)
	if err != nil {
		return SeekTo{}, ErrMalformed
	}
	return SeekTo{WriteCmd: uint32(cmd), WriteCmdOffset: uint32(off)}, nil
}
