package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/accumio/accumd/pkg/bus"
	obsprom "github.com/accumio/accumd/pkg/observability/prometheus"
	"github.com/accumio/accumd/pkg/seekcmd"
	"github.com/accumio/accumd/pkg/trace"
)

// connWorker runs one client connection: receive, slice complete records,
// route seeks, echo the log from the connection's read cursor.
type connWorker struct {
	id   string
	srv  *Server
	conn net.Conn
	peer string

	cursor  uint64
	records int64
	echoed  int64
}

func newConnWorker(s *Server, conn net.Conn) *connWorker {
	peer := ""
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return &connWorker{
		id:   uuid.New().String()[:8],
		srv:  s,
		conn: conn,
		peer: peer,
	}
}

func (w *connWorker) run() {
	start := time.Now()
	m := obsprom.GetMetrics()
	m.ConnectionsActive.Inc()

	w.srv.log.Infof("accepted connection from %s [%s]", w.peer, w.id)
	w.srv.publish(bus.TopicConnOpened, []byte(w.peer))

	_, span := trace.StartConnSpan(context.Background(), w.peer)

	// Panic isolation is per-connection; a worker panic must not take the
	// accept loop down with it.
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.srv.errorConns, 1)
			w.srv.log.Errorf("panic in connection worker [%s] (isolated): %v", w.id, r)
		}
		_ = w.conn.Close()
		w.srv.releaseConnSlot()
		atomic.AddInt64(&w.srv.handledConns, 1)

		m.ConnectionsActive.Dec()
		m.RecordConnection(time.Since(start))
		trace.EndConnSpan(span, w.records, w.echoed)

		w.srv.log.Infof("closed connection from %s [%s]", w.peer, w.id)
		w.srv.publish(bus.TopicConnClosed, []byte(w.peer))
	}()

	buf := make([]byte, w.srv.config.ReadBufSize)
	total := 0

	for {
		if total == len(buf) {
			grown := make([]byte, len(buf)+w.srv.config.ReadBufSize)
			copy(grown, buf[:total])
			buf = grown
		}

		n, err := w.conn.Read(buf[total:])
		if n > 0 {
			total += n
			var handleErr error
			buf, total, handleErr = w.drainRecords(buf, total)
			if handleErr != nil {
				atomic.AddInt64(&w.srv.errorConns, 1)
				w.srv.log.Errorf("connection %s [%s]: %v", w.peer, w.id, handleErr)
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Orderly peer close.
			case errors.Is(err, net.ErrClosed) || w.srv.stoppingNow():
				// Forced shutdown by the supervisor.
			default:
				atomic.AddInt64(&w.srv.errorConns, 1)
				w.srv.log.Errorf("recv from %s [%s]: %v", w.peer, w.id, err)
			}
			return
		}
	}
}

// drainRecords slices every complete record off buf[:total], handles each,
// and moves the remainder to the buffer start.
func (w *connWorker) drainRecords(buf []byte, total int) ([]byte, int, error) {
	for {
		i := bytes.IndexByte(buf[:total], '\n')
		if i < 0 {
			return buf, total, nil
		}
		line := buf[:i+1]
		if err := w.handleRecord(line); err != nil {
			return buf, total, err
		}
		total = copy(buf, buf[i+1:total])
	}
}

// handleRecord routes one complete record: a seek directive repositions the
// cursor without echo; anything else is appended and answered with the log
// from the cursor.
func (w *connWorker) handleRecord(line []byte) error {
	m := obsprom.GetMetrics()

	if seekcmd.IsDirective(line) {
		to, err := seekcmd.Parse(line)
		if err != nil {
			m.RecordSeek("malformed")
			w.srv.log.Warnf("connection %s [%s]: %v", w.peer, w.id, err)
			return nil
		}
		cur, err := w.srv.store.ApplySeek(w.cursor, to)
		if err != nil {
			m.RecordSeek("rejected")
			w.srv.log.Warnf("connection %s [%s]: seek to (%d,%d): %v",
				w.peer, w.id, to.WriteCmd, to.WriteCmdOffset, err)
			return nil
		}
		m.RecordSeek("applied")
		w.cursor = cur
		return nil
	}

	if err := w.srv.store.Append(line); err != nil {
		return err
	}
	// record.appended events are published by the store observer, which also
	// covers the timestamp emitter's appends.
	w.records++
	m.RecordsAppended.Inc()
	w.srv.updateLogGauges()

	return w.echo()
}

// echo streams the log from the read cursor back to the client and advances
// the cursor by the bytes sent. Frames were copied out of the store, so no
// lock is held across sends.
func (w *connWorker) echo() error {
	frames, err := w.srv.store.SnapshotFrom(w.cursor)
	if err != nil {
		return err
	}

	m := obsprom.GetMetrics()
	chunk := w.srv.config.WriteChunkSize
	for _, frame := range frames {
		for off := 0; off < len(frame); off += chunk {
			end := off + chunk
			if end > len(frame) {
				end = len(frame)
			}
			n, err := w.conn.Write(frame[off:end])
			w.cursor += uint64(n)
			w.echoed += int64(n)
			atomic.AddInt64(&w.srv.echoedBytes, int64(n))
			m.EchoedBytes.Add(float64(n))
			if err != nil {
				return err
			}
		}
	}
	return nil
}
