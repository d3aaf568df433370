// Package server binds the accumulator's TCP listener, runs one worker per
// client connection, and owns the shutdown path that unblocks them all.
package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/accumio/accumd/pkg/bus"
	"github.com/accumio/accumd/pkg/logging"
	"github.com/accumio/accumd/pkg/logstore"
	obsprom "github.com/accumio/accumd/pkg/observability/prometheus"
)

const (
	// DefaultAddr is the wire-protocol listen address.
	DefaultAddr = ":9000"

	// ReadSize is the receive-buffer growth increment per connection.
	ReadSize = 1024

	// WriteSize is the echo chunk size.
	WriteSize = 1024
)

// Config configures the accumulator server.
type Config struct {
	Addr string

	// MaxConns bounds concurrent client connections. 0 means unlimited.
	MaxConns int

	// ReadBufSize overrides ReadSize; WriteChunkSize overrides WriteSize.
	// Zero values take the defaults.
	ReadBufSize    int
	WriteChunkSize int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(addr string) *Config {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Config{
		Addr:           addr,
		MaxConns:       0,
		ReadBufSize:    ReadSize,
		WriteChunkSize: WriteSize,
	}
}

// Server accepts client connections and spawns a connection worker per
// accept. All workers share one Store; serialization happens inside it.
type Server struct {
	config *Config
	store  logstore.Store
	events bus.Bus
	log    logging.Logger

	mu       sync.RWMutex
	listener net.Listener
	stopping int32

	workersMu sync.Mutex
	workers   map[*connWorker]struct{}
	wg        sync.WaitGroup

	// Metrics (atomic for thread-safety)
	totalAccepted int64
	activeConns   int64
	handledConns  int64
	errorConns    int64
	rejectedConns int64
	echoedBytes   int64
}

// Metrics provides server performance counters.
type Metrics struct {
	TotalAccepted       int64 // Total connections accepted
	ActiveConnections   int64 // Currently open connections
	HandledConnections  int64 // Total connections fully handled
	ErrorConnections    int64 // Connections terminated by an error
	RejectedConnections int64 // Connections refused by the MaxConns cap
	EchoedBytes         int64 // Total bytes echoed to clients
	MaxConns            int   // Connection cap (0 = unlimited)
}

// New creates a server over store (fail-fast on nil store).
func New(store logstore.Store, config *Config, log logging.Logger, events bus.Bus) *Server {
	if store == nil {
		panic("server: store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.ReadBufSize < 1 {
		config.ReadBufSize = ReadSize
	}
	if config.WriteChunkSize < 1 {
		config.WriteChunkSize = WriteSize
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	return &Server{
		config:  config,
		store:   store,
		events:  events,
		log:     log,
		workers: make(map[*connWorker]struct{}),
	}
}

// Start binds the configured address and serves until Stop (blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop (blocking). Used directly by
// the daemonized child, which inherits an already-bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			// A closed listener is the clean-shutdown signal.
			if atomic.LoadInt32(&s.stopping) == 1 || errors.Is(err, net.ErrClosed) {
				s.drainWorkers()
				return nil
			}
			return err
		}

		atomic.AddInt64(&s.totalAccepted, 1)
		obsprom.GetMetrics().ConnectionsTotal.Inc()

		if !s.tryAcquireConnSlot() {
			atomic.AddInt64(&s.rejectedConns, 1)
			s.log.Warnf("rejecting %s: connection cap %d reached", conn.RemoteAddr(), s.config.MaxConns)
			_ = conn.Close()
			continue
		}

		w := newConnWorker(s, conn)
		s.trackWorker(w)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackWorker(w)
			w.run()
		}()
	}
}

// Stop closes the listener and every live client socket, then waits for all
// workers to exit.
func (s *Server) Stop() error {
	atomic.StoreInt32(&s.stopping, 1)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.workersMu.Lock()
	for w := range s.workers {
		_ = w.conn.Close()
	}
	s.workersMu.Unlock()

	s.wg.Wait()
	return nil
}

// ListeningAddr returns the bound address ("" before Serve), useful when
// Addr is ":0".
func (s *Server) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Metrics returns a snapshot of the server counters.
func (s *Server) Metrics() Metrics {
	return Metrics{
		TotalAccepted:       atomic.LoadInt64(&s.totalAccepted),
		ActiveConnections:   atomic.LoadInt64(&s.activeConns),
		HandledConnections:  atomic.LoadInt64(&s.handledConns),
		ErrorConnections:    atomic.LoadInt64(&s.errorConns),
		RejectedConnections: atomic.LoadInt64(&s.rejectedConns),
		EchoedBytes:         atomic.LoadInt64(&s.echoedBytes),
		MaxConns:            s.config.MaxConns,
	}
}

func (s *Server) stoppingNow() bool {
	return atomic.LoadInt32(&s.stopping) == 1
}

func (s *Server) tryAcquireConnSlot() bool {
	if s.config.MaxConns <= 0 {
		atomic.AddInt64(&s.activeConns, 1)
		return true
	}
	for {
		cur := atomic.LoadInt64(&s.activeConns)
		if int(cur) >= s.config.MaxConns {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.activeConns, cur, cur+1) {
			return true
		}
	}
}

func (s *Server) releaseConnSlot() {
	atomic.AddInt64(&s.activeConns, -1)
}

func (s *Server) trackWorker(w *connWorker) {
	s.workersMu.Lock()
	s.workers[w] = struct{}{}
	s.workersMu.Unlock()
}

func (s *Server) untrackWorker(w *connWorker) {
	s.workersMu.Lock()
	delete(s.workers, w)
	s.workersMu.Unlock()
}

func (s *Server) drainWorkers() {
	s.workersMu.Lock()
	for w := range s.workers {
		_ = w.conn.Close()
	}
	s.workersMu.Unlock()
	s.wg.Wait()
}

func (s *Server) publish(topic string, payload []byte) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}

// updateLogGauges refreshes the log gauges from the store counters.
func (s *Server) updateLogGauges() {
	st := s.store.Stats()
	present := st.AppendedRecords - st.OverwrittenRecords
	obsprom.GetMetrics().UpdateLogState(int(present), s.store.TotalBytes())
}
