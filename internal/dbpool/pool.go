// Package dbpool implements a fixed-size, blocking-checkout database
// connection pool: a queue of opaque handles sized once at Open and
// never resized. A single buffered channel behaves as counting
// semaphore and queue at once (a receive blocks like sem_wait then
// pop, a send is sem_post then push), so that is what backs pool[C].
package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// pool reparte un número fijo de handles de tipo C entre llamadores
// concurrentes. get bloquea si no hay ninguno libre; put siempre debe
// llamarse, incluso en rutas de error (ver withConn).
type pool[C any] struct {
	slots chan C
	size  int
}

func (p *pool[C]) get(ctx context.Context) (C, error) {
	select {
	case c := <-p.slots:
		return c, nil
	case <-ctx.Done():
		var zero C
		return zero, ctx.Err()
	}
}

// put devuelve un handle al pool. Un handle roto se acepta igual: no
// se revalida al devolverlo, y reutilizarlo es riesgo de quien lo
// vuelva a pedir.
func (p *pool[C]) put(c C) { p.slots <- c }

// withConn ata get/put al scope de fn, garantizando que el handle
// vuelva al pool por cualquier camino de salida (éxito o error).
func (p *pool[C]) withConn(ctx context.Context, fn func(C) error) error {
	c, err := p.get(ctx)
	if err != nil {
		return err
	}
	defer p.put(c)
	return fn(c)
}

func (p *pool[C]) available() int { return len(p.slots) }

// Pool es la instancia concreta usada en producción: handles *sql.Conn
// contra un driver Postgres (lib/pq).
type Pool struct {
	pool[*sql.Conn]
	db *sql.DB
}

// Options agrupa los parámetros de conexión: host, puerto, usuario,
// contraseña, nombre de base y tamaño del pool.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Size     int
}

// Open abre `size` conexiones persistentes y las deja disponibles de
// inmediato. Si cualquiera de las `size` conexiones falla al abrirse,
// Open aborta completo: una entrada rota en el pool degradaría cada
// get() posterior.
func Open(ctx context.Context, opt Options) (*Pool, error) {
	if opt.Size <= 0 {
		opt.Size = 1
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		opt.Host, opt.Port, opt.User, opt.Password, opt.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(opt.Size)
	db.SetMaxIdleConns(opt.Size)

	p := &Pool{pool: pool[*sql.Conn]{slots: make(chan *sql.Conn, opt.Size), size: opt.Size}, db: db}
	for i := 0; i < opt.Size; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dbpool: open conn %d/%d: %w", i+1, opt.Size, err)
		}
		p.slots <- c
	}
	return p, nil
}

// Get saca una conexión del pool, bloqueando hasta que haya una libre
// o el contexto se cancele.
func (p *Pool) Get(ctx context.Context) (*sql.Conn, error) { return p.get(ctx) }

// Put devuelve una conexión al pool.
func (p *Pool) Put(c *sql.Conn) { p.put(c) }

// WithConn ata Get/Put al scope de fn, garantizando que la conexión
// vuelva al pool por cualquier camino de salida (éxito o error).
func (p *Pool) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	return p.withConn(ctx, fn)
}

// Available devuelve cuántas conexiones están libres ahora mismo, para
// métricas (no es un valor estable bajo contención).
func (p *Pool) Available() int { return p.available() }

// Size devuelve la capacidad configurada del pool.
func (p *Pool) Size() int { return p.size }

// CloseAll drena la cola y cierra cada conexión, y finalmente la base
// subyacente. Se invoca en el apagado del servidor.
func (p *Pool) CloseAll() error {
	for i := 0; i < p.size; i++ {
		select {
		case c := <-p.slots:
			_ = c.Close()
		default:
		}
	}
	return p.db.Close()
}
