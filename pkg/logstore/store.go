// Package logstore exposes the shared command log behind a single facade:
// append bytes, resolve seek directives against the stored records, and
// snapshot the log from a cursor for echoing.
package logstore

import (
	"errors"
	"time"

	"github.com/accumio/accumd/pkg/seekcmd"
)

// TimestampLayout renders the periodic timestamp record body
// (RFC 2822 style: "%a, %d %b %Y %T %z").
const TimestampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// TimestampPrefix starts every emitted timestamp record.
const TimestampPrefix = "timestamp:"

// Errors.
var (
	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("logstore: store is closed")
	// ErrOutOfRange reports a seek whose record index or byte offset does not
	// address a stored byte.
	ErrOutOfRange = errors.New("logstore: seek target out of range")
)

// Store is the mutex-guarded aggregate every connection worker and the
// timestamp emitter share.
//
// Contract summary:
//   - Append feeds the shared partial buffer and promotes every completed
//     newline-terminated record into the log. Seek directives never become
//     log content.
//   - ApplySeek is pure with respect to the log: it validates the directive
//     against the present records and returns the new cursor value.
//   - SnapshotFrom copies the byte range [cursor, TotalBytes) out under the
//     store's lock as one or more frames (MemStore: one per touched record;
//     FileStore: a single frame), so callers never hold the lock across
//     socket I/O.
type Store interface {
	Append(b []byte) error
	ApplySeek(cursor uint64, to seekcmd.SeekTo) (uint64, error)
	SnapshotFrom(cursor uint64) ([][]byte, error)
	AppendTimestamp(t time.Time) error
	TotalBytes() uint64
	Stats() Stats
	Close() error
}

// Stats exposes basic operational counters.
type Stats struct {
	// AppendedRecords counts records promoted into the log.
	AppendedRecords int64
	// OverwrittenRecords counts records evicted by ring wraparound.
	OverwrittenRecords int64
	// DroppedDirectives counts seek directives discarded by Append.
	DroppedDirectives int64
	// SeeksApplied counts successful cursor repositions.
	SeeksApplied int64
	// SeeksRejected counts out-of-range seek attempts.
	SeeksRejected int64
	// SnapshotBytes counts bytes copied out for echoing.
	SnapshotBytes int64
}

// FormatTimestamp renders the record body the periodic emitter appends.
func FormatTimestamp(t time.Time) []byte {
	return []byte(TimestampPrefix + t.Format(TimestampLayout) + "\n")
}
