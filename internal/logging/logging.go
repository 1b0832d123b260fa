// Package logging wraps go.uber.org/zap behind the small interface the
// rest of this module depends on: level-gated writes queued and
// flushed by a dedicated goroutine instead of blocking the caller. The
// logger is injected into the reactor at construction, never reached
// for as a process-wide singleton.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Level es uno de los cuatro niveles DEBUG/INFO/WARN/ERROR.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Logger es la interfaz que el resto del servidor conoce; nunca un
// *zap.Logger concreto, para poder inyectar un stub en tests.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Close() error
}

type record struct {
	level Level
	msg   string
}

// asyncZap encola los registros en un canal acotado y los vuelca a zap
// desde una única goroutine. Si la cola está llena el registro se
// descarta: el logger es best-effort.
type asyncZap struct {
	base  *zap.SugaredLogger
	queue chan record
	level Level
	done  chan struct{}
}

// New crea un Logger asíncrono respaldado por zap, gateado en level.
// queueSize fija la capacidad del canal interno.
func New(level Level, queueSize int) (Logger, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	// zap deja pasar todo; el único filtro de nivel es el de enqueue
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	z, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	a := &asyncZap{
		base:  z.Sugar(),
		queue: make(chan record, queueSize),
		level: level,
		done:  make(chan struct{}),
	}
	go a.drain()
	return a, nil
}

func (a *asyncZap) drain() {
	defer close(a.done)
	for r := range a.queue {
		switch r.level {
		case Debug:
			a.base.Debug(r.msg)
		case Info:
			a.base.Info(r.msg)
		case Warn:
			a.base.Warn(r.msg)
		case Error:
			a.base.Error(r.msg)
		}
	}
}

func (a *asyncZap) enqueue(level Level, format string, args []any) {
	if level < a.level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	select {
	case a.queue <- record{level: level, msg: msg}:
	default:
		// cola llena: se descarta
	}
}

func (a *asyncZap) Debugf(format string, args ...any) { a.enqueue(Debug, format, args) }
func (a *asyncZap) Infof(format string, args ...any)  { a.enqueue(Info, format, args) }
func (a *asyncZap) Warnf(format string, args ...any)  { a.enqueue(Warn, format, args) }
func (a *asyncZap) Errorf(format string, args ...any) { a.enqueue(Error, format, args) }

// Close cierra la cola, espera a que drene y sincroniza zap. Un fallo
// de Sync se descarta: el logger es best-effort.
func (a *asyncZap) Close() error {
	close(a.queue)
	<-a.done
	_ = a.base.Sync()
	return nil
}

// Nop es un Logger que descarta todo; útil en tests que no quieren
// depender de zap.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
func (Nop) Close() error          { return nil }
