//go:build linux

// Package reactor implementa el bucle principal del servidor: una
// única gorutina que multiplexa el fd de escucha y las conexiones de
// cliente sobre epoll, expira las inactivas con un timer heap y delega
// el trabajo de cada conexión a un pool de workers.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"webreactor/internal/conn"
	"webreactor/internal/httpproto"
	"webreactor/internal/logging"
	"webreactor/internal/metrics"
	"webreactor/internal/poller"
	"webreactor/internal/timerheap"
	"webreactor/internal/workerpool"
)

// Options agrupa los parámetros de arranque que le conciernen al
// reactor (el resto de internal/config, como los de BD, se resuelven
// más arriba en cmd/server).
type Options struct {
	Port         int
	ConnEdge     bool // bit 0 de trigger-mode
	ListenEdge   bool // bit 1 de trigger-mode
	IdleTimeout  time.Duration
	Linger       bool
	MaxConns     int
	ResourceRoot string
}

// Server es el reactor: un epoll, un timer heap, la tabla de
// conexiones vivas y las dependencias inyectadas (pool de workers,
// verificador de usuarios, logging, métricas).
type Server struct {
	opts     Options
	listenFd int
	wakeFd   int // eventfd que despierta a Wait cuando Shutdown marca el cierre

	poll    *poller.Poller
	timers  *timerheap.Heap
	workers *workerpool.Pool
	verify  httpproto.Verifier
	log     logging.Logger
	reg     *metrics.Registry

	mu    sync.Mutex
	conns map[int]*conn.Connection

	closing atomic.Bool
}

// Listen crea el socket de escucha (SO_REUSEADDR, SO_LINGER opcional,
// backlog=6, no bloqueante) y lo registra en un epoll nuevo, siguiendo
// InitSocket_ en webserver.cpp.
func Listen(opts Options, workers *workerpool.Pool, verify httpproto.Verifier, log logging.Logger, reg *metrics.Registry) (*Server, error) {
	if log == nil {
		log = logging.Nop{}
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}
	if opts.Linger {
		l := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("reactor: SO_LINGER: %w", err)
		}
	}
	sa := &unix.SockaddrInet4{Port: opts.Port}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, 6); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: nonblock: %w", err)
	}

	p, err := poller.New()
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	interest := poller.Readable
	if opts.ListenEdge {
		interest |= poller.EdgeTriggered
	}
	if err := p.Add(fd, interest); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// Sin conexiones vivas el heap queda vacío y Wait bloquearía con -1
	// indefinidamente; el eventfd da a Shutdown una forma de despertarlo.
	wake, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = p.Close()
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	if err := p.Add(wake, poller.Readable); err != nil {
		_ = unix.Close(wake)
		_ = p.Close()
		_ = unix.Close(fd)
		return nil, err
	}

	if bound, err := unix.Getsockname(fd); err == nil {
		if in4, ok := bound.(*unix.SockaddrInet4); ok {
			opts.Port = in4.Port
		}
	}

	s := &Server{
		opts:     opts,
		listenFd: fd,
		wakeFd:   wake,
		poll:     p,
		timers:   timerheap.New(nil),
		workers:  workers,
		verify:   verify,
		log:      log,
		reg:      reg,
		conns:    make(map[int]*conn.Connection),
	}
	return s, nil
}

// Port devuelve el puerto efectivamente vinculado (útil cuando se pidió el puerto 0).
func (s *Server) Port() int { return s.opts.Port }

// Run ejecuta el bucle principal hasta que Shutdown marque el cierre.
// Única gorutina que toca s.conns para aceptar, expirar por timeout o
// despachar eventos: las únicas escrituras concurrentes vienen de
// closeConn llamado desde un worker, protegidas por s.mu.
func (s *Server) Run() error {
	defer func() {
		s.timers.Clear()
		_ = unix.Close(s.wakeFd)
		_ = s.poll.Close()
	}()
	for !s.closing.Load() {
		waitMS := s.timers.NextTickMS()
		events, err := s.poll.Wait(waitMS)
		if err != nil {
			return err
		}
		for _, ev := range events {
			switch {
			case ev.Fd == s.wakeFd:
				// despertado por Shutdown; el for exterior corta
			case ev.Fd == s.listenFd:
				s.dealListen()
			case ev.HangUp:
				s.closeConn(ev.Fd)
			case ev.Readable:
				s.dealRead(ev.Fd)
			case ev.Writable:
				s.dealWrite(ev.Fd)
			}
		}
	}
	return nil
}

// Shutdown detiene la aceptación de nuevas conexiones y marca el cierre
// del bucle; éste termina tras su próximo Wait. El pool de workers se
// drena aparte por el llamador (cmd/server), igual que el pool de BD.
func (s *Server) Shutdown() {
	if s.closing.Swap(true) {
		return
	}
	s.poll.Del(s.listenFd)
	_ = unix.Close(s.listenFd)
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(s.wakeFd, one[:])
}

// updateTimerGauge refleja el tamaño actual del timer heap en
// métricas; se llama tras cada Add/Adjust del hilo reactor.
func (s *Server) updateTimerGauge() {
	if s.reg != nil {
		s.reg.TimerHeapSize.Set(float64(s.timers.Len()))
	}
}

func (s *Server) lookup(fd int) (*conn.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[fd]
	return c, ok
}

func (s *Server) connInterest(extra poller.Interest) poller.Interest {
	in := poller.OneShot | extra
	if s.opts.ConnEdge {
		in |= poller.EdgeTriggered
	}
	return in
}

// dealListen acepta en bucle si el fd de escucha es edge-triggered, o
// una sola vez si es level-triggered.
func (s *Server) dealListen() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EMFILE) {
				return
			}
			s.log.Warnf("reactor: accept: %v", err)
			return
		}
		s.acceptOne(fd, sa)
		if !s.opts.ListenEdge {
			return
		}
	}
}

func (s *Server) acceptOne(fd int, sa unix.Sockaddr) {
	s.mu.Lock()
	live := len(s.conns)
	s.mu.Unlock()

	if s.opts.MaxConns > 0 && live >= s.opts.MaxConns {
		_ = unix.SetNonblock(fd, false)
		_, _ = unix.Write(fd, []byte("Server busy!"))
		_ = unix.Close(fd)
		if s.reg != nil {
			s.reg.AdmissionRejects.Inc()
		}
		return
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return
	}

	c := conn.New(fd, peerAddrString(sa), s.opts.ResourceRoot, s.verify)

	s.mu.Lock()
	s.conns[fd] = c
	s.mu.Unlock()
	if s.reg != nil {
		s.reg.LiveConnections.Inc()
	}

	s.timers.Add(fd, s.opts.IdleTimeout, func() { s.closeConn(fd) })
	s.updateTimerGauge()

	if err := s.poll.Add(fd, s.connInterest(poller.Readable)); err != nil {
		s.closeConn(fd)
		return
	}
	s.log.Infof("conn %s accepted from %s", c.ID(), c.PeerAddr())
}

func (s *Server) dealRead(fd int) {
	c, ok := s.lookup(fd)
	if !ok {
		return
	}
	s.timers.Adjust(fd, s.opts.IdleTimeout)
	s.updateTimerGauge()
	s.workers.Submit(func() { s.onRead(fd, c) })
	s.updateWorkerGauge()
}

func (s *Server) dealWrite(fd int) {
	c, ok := s.lookup(fd)
	if !ok {
		return
	}
	s.timers.Adjust(fd, s.opts.IdleTimeout)
	s.updateTimerGauge()
	s.workers.Submit(func() { s.onWrite(fd, c) })
	s.updateWorkerGauge()
}

// updateWorkerGauge refleja la profundidad de la cola FIFO del pool de
// workers en métricas.
func (s *Server) updateWorkerGauge() {
	if s.reg != nil {
		s.reg.WorkerQueueDepth.Set(float64(s.workers.QueueLen()))
	}
}

func (s *Server) onRead(fd int, c *conn.Connection) {
	if _, err := c.Read(); err != nil {
		s.closeConn(fd)
		return
	}
	s.onProcess(fd, c)
}

func (s *Server) onProcess(fd int, c *conn.Connection) {
	start := time.Now()
	ready, err := c.Process(context.Background())
	if err != nil {
		s.closeConn(fd)
		return
	}
	if ready && s.reg != nil {
		s.reg.RequestLatency.Observe(time.Since(start).Seconds())
		s.reg.RequestsTotal.WithLabelValues(strconv.Itoa(c.ResponseCode())).Inc()
	}
	var want poller.Interest
	if ready {
		want = poller.Writable
	} else {
		want = poller.Readable
	}
	if err := s.poll.Mod(fd, s.connInterest(want)); err != nil {
		s.closeConn(fd)
	}
}

func (s *Server) onWrite(fd int, c *conn.Connection) {
	_, err := c.Write()
	if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
		s.closeConn(fd)
		return
	}
	if c.PendingWriteBytes() == 0 {
		if c.IsKeepAlive() {
			c.ResetForNextRequest()
			s.onProcess(fd, c)
			return
		}
		s.closeConn(fd)
		return
	}
	if err := s.poll.Mod(fd, s.connInterest(poller.Writable)); err != nil {
		s.closeConn(fd)
	}
}

// closeConn es segura de llamar tanto desde el hilo reactor (timer,
// hangup) como desde un worker (fallo de read/write): la existencia en
// s.conns se comprueba bajo s.mu, así que una segunda llamada sobre el
// mismo fd (p. ej. el timer disparando después de que un worker ya
// cerró) es un no-op. El temporizador del fd no se cancela aquí: el
// heap sólo lo toca el hilo reactor, y un worker no puede entrar a
// borrarlo sin romper eso. El nodo huérfano o bien se reescribe cuando
// el SO reutiliza el fd (Add sobre el mismo id reemplaza deadline y
// callback) o bien vence y su callback no encuentra el fd en s.conns.
func (s *Server) closeConn(fd int) {
	s.mu.Lock()
	c, ok := s.conns[fd]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, fd)
	s.mu.Unlock()

	s.poll.Del(fd)
	_ = c.Close()
	if s.reg != nil {
		s.reg.LiveConnections.Dec()
	}
	s.log.Infof("conn %s closed", c.ID())
}

func peerAddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", v.Addr, v.Port)
	default:
		return "unknown"
	}
}
