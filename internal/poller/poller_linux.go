//go:build linux

// Package poller wraps epoll behind an add/mod/del/wait surface with
// per-fd level/edge-triggered and one-shot interest, batching the
// readiness events of each wait into a slice for the reactor to
// dispatch.
package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest son las máscaras de interés que puede tener un fd
// registrado. Combinan con OR, igual que los bits EPOLL* del kernel.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
	EdgeTriggered
	OneShot
)

// Event es el par (fd, eventos) que devuelve Wait.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	HangUp   bool // peer cerró o hubo error (EPOLLRDHUP|EPOLLHUP|EPOLLERR)
}

// Poller envuelve un único epoll fd.
type Poller struct {
	epfd int
}

// New crea un Poller respaldado por epoll_create1.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Poller{epfd: fd}, nil
}

func toEpollEvents(in Interest) uint32 {
	var ev uint32
	if in&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if in&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if in&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	ev |= unix.EPOLLRDHUP
	return ev
}

// Add registra fd con la máscara de interés dada. Falla si fd ya
// estaba registrado.
func (p *Poller) Add(fd int, in Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("poller: add fd=%d: %w", fd, err)
	}
	return nil
}

// Mod actualiza el interés de un fd ya registrado. El idioma
// "rearm-after-one-shot" se expresa incluyendo OneShot en in antes de
// cada llamada tras procesar un evento.
func (p *Poller) Mod(fd int, in Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("poller: mod fd=%d: %w", fd, err)
	}
	return nil
}

// Del elimina fd del conjunto vigilado. Idempotente: un error ENOENT
// se descarta silenciosamente.
func (p *Poller) Del(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait bloquea hasta timeoutMS (-1 = indefinido) o hasta que haya
// eventos, y los devuelve.
func (p *Poller) Wait(timeoutMS int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		out = append(out, Event{
			Fd:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			HangUp:   e.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

// Close cierra el epoll fd subyacente.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
