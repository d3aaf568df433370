package logstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/accumio/accumd/pkg/assemble"
	"github.com/accumio/accumd/pkg/logging"
	"github.com/accumio/accumd/pkg/seekcmd"
)

// FileStore delegates the command log to an external byte-stream device
// addressed by path: records are appended through, snapshots read back, and
// seek directives resolved by walking the device's newline-delimited records.
// State persists for the lifetime of the device, nothing is overwritten, and
// the timestamp emitter is the device's responsibility, not this process's.
type FileStore struct {
	mu      sync.Mutex
	f       *os.File
	partial assemble.Assembler
	closed  bool
	stats   Stats

	log logging.Logger
}

// NewFileStore opens (creating if needed) the device file in append mode.
func NewFileStore(path string, log logging.Logger) (*FileStore, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: open device %s: %w", path, err)
	}
	return &FileStore{f: f, log: log}, nil
}

// Append feeds b to the shared partial buffer and writes every completed
// record through to the device. Directives are dropped, matching the
// in-process store.
func (s *FileStore) Append(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.partial.Feed(b)
	for {
		rec := s.partial.ExtractRecord()
		if rec == nil {
			return nil
		}
		if seekcmd.IsDirective(rec) {
			s.stats.DroppedDirectives++
			s.log.Warnf("dropping seek directive delivered as log content (%d bytes)", len(rec))
			continue
		}
		if _, err := s.f.Write(rec); err != nil {
			return fmt.Errorf("logstore: append to device: %w", err)
		}
		s.stats.AppendedRecords++
	}
}

// ApplySeek walks the device's records from the start and returns the
// absolute offset addressed by to. A trailing unterminated fragment is not a
// record and cannot be addressed.
func (s *FileStore) ApplySeek(cursor uint64, to seekcmd.SeekTo) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cursor, ErrClosed
	}

	r := bufio.NewReader(io.NewSectionReader(s.f, 0, int64(1)<<62))
	var base uint64
	var idx uint32
	for {
		line, err := r.ReadBytes('\n')
		if err != nil || len(line) == 0 || line[len(line)-1] != '\n' {
			break
		}
		if idx == to.WriteCmd {
			if uint64(to.WriteCmdOffset) >= uint64(len(line)) {
				break
			}
			s.stats.SeeksApplied++
			return base + uint64(to.WriteCmdOffset), nil
		}
		base += uint64(len(line))
		idx++
	}
	s.stats.SeeksRejected++
	return cursor, ErrOutOfRange
}

// SnapshotFrom reads [cursor, size) from the device as a single frame.
func (s *FileStore) SnapshotFrom(cursor uint64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	st, err := s.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("logstore: stat device: %w", err)
	}
	size := uint64(st.Size())
	if cursor >= size {
		return nil, nil
	}

	buf := make([]byte, size-cursor)
	if _, err := s.f.ReadAt(buf, int64(cursor)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("logstore: read device: %w", err)
	}
	s.stats.SnapshotBytes += int64(len(buf))
	return [][]byte{buf}, nil
}

// AppendTimestamp writes one complete timestamp record to the device.
// Exposed for contract parity; the emitter is disabled with this backend.
func (s *FileStore) AppendTimestamp(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.f.Write(FormatTimestamp(t)); err != nil {
		return fmt.Errorf("logstore: append timestamp: %w", err)
	}
	s.stats.AppendedRecords++
	return nil
}

// TotalBytes returns the device size.
func (s *FileStore) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	st, err := s.f.Stat()
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

// Stats returns a copy of the operational counters.
func (s *FileStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the device handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
