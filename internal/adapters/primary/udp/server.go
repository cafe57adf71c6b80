// Package udp implements the four WIP UDP servers (Weather, Location,
// Query, Report) as primary adapters over a shared worker-pool socket
// scaffold, using context deadlines on every request the way the rest
// of this codebase's transport adapters do.
package udp

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/services"
)

// HandlerFunc processes one decoded-or-raw inbound datagram and returns
// the raw bytes to write back to remote, or nil to send nothing.
type HandlerFunc func(ctx context.Context, data []byte, remote net.Addr) []byte

// Server is a worker-pool UDP listener: one goroutine reads datagrams
// off the socket and fans them out to a fixed pool of workers, each of
// which runs HandlerFunc under a per-request deadline and recovers from
// handler panics so one bad request can't take down the listener.
type Server struct {
	Role        domain.Role
	Addr        string
	Workers     int
	RequestTTL  time.Duration
	Handler     HandlerFunc
	Logger      *zap.Logger

	conn     *net.UDPConn
	jobs     chan job
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
	closed   chan struct{}
}

type job struct {
	data   []byte
	remote net.Addr
}

// defaultQueueDepth bounds how many received-but-not-yet-processed
// datagrams the server buffers before it starts dropping new ones
// under overload.
const defaultQueueDepth = 1024

// Start binds the UDP socket and launches the reader and worker
// goroutines. It returns once the socket is bound; the goroutines keep
// serving until Stop is called.
func (s *Server) Start() error {
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}

	if s.RequestTTL <= 0 {
		s.RequestTTL = 5 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	s.conn = conn
	s.jobs = make(chan job, defaultQueueDepth)
	s.closed = make(chan struct{})

	for i := 0; i < s.Workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}

	s.readerWg.Add(1)
	go s.readLoop()

	s.Logger.Info("udp server listening",
		zap.String("role", string(s.Role)),
		zap.String("addr", s.conn.LocalAddr().String()),
		zap.Int("workers", s.Workers))

	return nil
}

// ListenAddr returns the socket's actual bound address, useful when Addr
// was given with a ":0" port and the assigned port must be discovered.
func (s *Server) ListenAddr() string {
	return s.conn.LocalAddr().String()
}

// Stop closes the socket and waits for in-flight workers to drain. The
// reader must fully exit before the job queue is closed, or a send on a
// closed channel could race with its final ReadFromUDP result.
func (s *Server) Stop() {
	if s.conn == nil {
		return
	}

	close(s.closed)
	_ = s.conn.Close()
	s.readerWg.Wait()
	close(s.jobs)
	s.workerWg.Wait()
}

func (s *Server) readLoop() {
	defer s.readerWg.Done()

	buf := make([]byte, domain.MaxDatagramSize)

	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			s.Logger.Warn("udp read error", zap.String("role", string(s.Role)), zap.Error(err))

			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.jobs <- job{data: data, remote: remote}:
		default:
			s.Logger.Warn("udp server overloaded, dropping datagram",
				zap.String("role", string(s.Role)),
				zap.String("remote", remote.String()))
		}
	}
}

func (s *Server) worker() {
	defer s.workerWg.Done()

	for j := range s.jobs {
		s.handle(j)
	}
}

func (s *Server) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.RequestTTL)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("panic in udp handler",
				zap.String("role", string(s.Role)),
				zap.Any("recovered", r))

			req, _ := codec.Decode(j.data)
			errPkt := services.BuildErrorResponse(req.Header.PacketID, domain.ErrServerError, "internal server error", uint64(time.Now().Unix()))
			if out, err := codec.Encode(errPkt); err == nil {
				_, _ = s.conn.WriteToUDP(out, j.remote.(*net.UDPAddr))
			}
		}
	}()

	resp := s.Handler(ctx, j.data, j.remote)
	if resp == nil {
		return
	}

	if _, err := s.conn.WriteToUDP(resp, j.remote.(*net.UDPAddr)); err != nil {
		s.Logger.Warn("udp write error",
			zap.String("role", string(s.Role)),
			zap.String("remote", j.remote.String()),
			zap.Error(err))
	}
}
