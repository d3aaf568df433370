package logstore

import (
	"sync"
	"time"

	"github.com/accumio/accumd/pkg/assemble"
	"github.com/accumio/accumd/pkg/logging"
	"github.com/accumio/accumd/pkg/ringlog"
	"github.com/accumio/accumd/pkg/seekcmd"
)

// MemStore keeps the command log in process memory: a fixed-capacity ring of
// the most recent records plus one shared partial buffer. State vanishes when
// the process exits.
//
// The partial buffer is shared across all writers, so two connections that
// interleave non-terminated writes interleave into the same record. That
// matches the device this store stands in for.
type MemStore struct {
	mu      sync.Mutex
	ring    *ringlog.Ring
	partial assemble.Assembler
	closed  bool
	stats   Stats
	notify  func(rec []byte)

	log logging.Logger
}

// NewMemStore creates an empty in-process store with the given ring capacity.
// Capacity values < 1 fall back to ringlog.DefaultCapacity.
func NewMemStore(capacity int, log logging.Logger) *MemStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &MemStore{
		ring: ringlog.New(capacity),
		log:  log,
	}
}

// SetObserver registers fn to be called, outside the store's lock, with every
// record promoted into the log. Call before the store is shared.
func (s *MemStore) SetObserver(fn func(rec []byte)) {
	s.notify = fn
}

// Append feeds b to the shared partial buffer and promotes every completed
// record. Directive-prefixed records reaching the log carry no cursor to move
// and are dropped rather than stored.
func (s *MemStore) Append(b []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	s.partial.Feed(b)
	var added [][]byte
	for {
		rec := s.partial.ExtractRecord()
		if rec == nil {
			break
		}
		if seekcmd.IsDirective(rec) {
			s.stats.DroppedDirectives++
			s.log.Warnf("dropping seek directive delivered as log content (%d bytes)", len(rec))
			continue
		}
		if evicted := s.ring.Add(rec); evicted != nil {
			s.stats.OverwrittenRecords++
		}
		s.stats.AppendedRecords++
		added = append(added, rec)
	}
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		for _, rec := range added {
			notify(rec)
		}
	}
	return nil
}

// ApplySeek validates to against the present records and returns the absolute
// cursor it addresses. The log itself is not mutated.
func (s *MemStore) ApplySeek(cursor uint64, to seekcmd.SeekTo) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cursor, ErrClosed
	}

	rec, ok := s.ring.RecordAt(int(to.WriteCmd))
	if !ok || uint64(to.WriteCmdOffset) >= uint64(len(rec)) {
		s.stats.SeeksRejected++
		return cursor, ErrOutOfRange
	}
	base, _ := s.ring.OffsetOf(int(to.WriteCmd))
	s.stats.SeeksApplied++
	return base + uint64(to.WriteCmdOffset), nil
}

// SnapshotFrom copies [cursor, TotalBytes) out under the lock, one frame per
// touched record. A cursor at or past TotalBytes yields no frames.
func (s *MemStore) SnapshotFrom(cursor uint64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	logical, within, ok := s.ring.Locate(cursor)
	if !ok {
		return nil, nil
	}

	var frames [][]byte
	s.ring.Do(func(i int, rec []byte) bool {
		if i < logical {
			return true
		}
		start := 0
		if i == logical {
			start = within
		}
		frame := make([]byte, len(rec)-start)
		copy(frame, rec[start:])
		frames = append(frames, frame)
		s.stats.SnapshotBytes += int64(len(frame))
		return true
	})
	return frames, nil
}

// AppendTimestamp adds one complete timestamp record, bypassing the partial
// buffer (timestamps are always whole lines).
func (s *MemStore) AppendTimestamp(t time.Time) error {
	rec := FormatTimestamp(t)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if evicted := s.ring.Add(rec); evicted != nil {
		s.stats.OverwrittenRecords++
	}
	s.stats.AppendedRecords++
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(rec)
	}
	return nil
}

// TotalBytes returns the logical log length.
func (s *MemStore) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.TotalBytes()
}

// Stats returns a copy of the operational counters.
func (s *MemStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the ring. Further operations return ErrClosed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ring = ringlog.New(0)
	return nil
}
