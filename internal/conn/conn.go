// Package conn implementa el estado por-cliente de una conexión: los
// buffers de entrada/salida, el parser incremental y la respuesta
// mapeada, sobre un descriptor crudo no bloqueante.
package conn

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"webreactor/internal/buffer"
	"webreactor/internal/httpproto"
	"webreactor/internal/util"
)

// ErrPeerClosed se devuelve por Read cuando el peer cerró su lado de
// la conexión (read devolvió 0).
var ErrPeerClosed = errors.New("conn: peer closed connection")

// Connection agrupa todo lo que un fd de cliente necesita durante su
// vida: buffers de entrada/salida, el parser que retoma entre
// llamadas, y la respuesta en curso (cabeceras ya en out, cuerpo
// mapeado aparte).
type Connection struct {
	fd           int
	id           string
	peerAddr     string
	resourceRoot string
	verify       httpproto.Verifier

	in     *buffer.Buffer
	out    *buffer.Buffer
	parser *httpproto.Parser
	resp   *httpproto.Response

	keepAlive bool
	bodyOff   int
}

// New crea una Connection lista para su primera request. resourceRoot
// y verify son inyectados: el primero ancla el servidor de archivos
// estáticos, el segundo conecta con internal/auth sin que este
// paquete conozca la base de datos.
func New(fd int, peerAddr, resourceRoot string, verify httpproto.Verifier) *Connection {
	return &Connection{
		fd:           fd,
		id:           util.NewConnID(),
		peerAddr:     peerAddr,
		resourceRoot: resourceRoot,
		verify:       verify,
		in:           buffer.New(4096),
		out:          buffer.New(4096),
		parser:       httpproto.NewParser(),
	}
}

// Fd devuelve el descriptor subyacente.
func (c *Connection) Fd() int { return c.fd }

// ID devuelve el identificador estable de esta conexión, usado en los
// logs y en la cabecera X-Request-Id de cada respuesta: a diferencia
// del fd, sobrevive a su reutilización por el SO.
func (c *Connection) ID() string { return c.id }

// PeerAddr devuelve la dirección del cliente tal como se registró al crear la Connection.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// IsKeepAlive indica si, tras procesar la request actual, la conexión
// debe permanecer abierta para la siguiente.
func (c *Connection) IsKeepAlive() bool { return c.keepAlive }

// ResponseCode devuelve el código de estado de la última respuesta
// construida, o 0 si todavía no hay ninguna (útil para etiquetar
// métricas por código).
func (c *Connection) ResponseCode() int {
	if c.resp == nil {
		return 0
	}
	return c.resp.Code
}

// Read hace scatter-read hasta EAGAIN o hasta que el peer cierra,
// devolviendo el total de bytes leídos en esta llamada.
func (c *Connection) Read() (int, error) {
	total := 0
	for {
		n, err := c.in.ReadFd(c.fd)
		if n > 0 {
			total += n
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, ErrPeerClosed
		}
	}
}

// Process intenta parsear lo acumulado en in. Devuelve true cuando hay
// una respuesta lista para escribirse (GOOD o BAD_REQUEST), false en
// NEED_MORE (el reactor debe seguir esperando lecturas).
func (c *Connection) Process(ctx context.Context) (bool, error) {
	switch c.parser.Parse(c.in) {
	case httpproto.NeedMore:
		return false, nil
	case httpproto.BadRequest:
		c.keepAlive = false
		if err := c.buildResponse("/400.html", 400); err != nil {
			return false, err
		}
		return true, nil
	default: // Good
		req := c.parser.Request()
		c.keepAlive = req.Version == "1.1" && req.Headers["Connection"] != "close"

		path, err := httpproto.ResolvePath(ctx, req, c.verify)
		if err != nil {
			// fallo de verify (pool de BD agotado o caído): se degrada
			// a 400 sin keep-alive en lugar de dejar la conexión
			// colgada; forceCode evita que el stat de /400.html lo
			// reclasifique como 200
			c.keepAlive = false
			return true, c.buildResponse("/400.html", 400)
		}
		return true, c.buildResponse(path, 0)
	}
}

func (c *Connection) buildResponse(path string, forceCode int) error {
	resp, err := httpproto.Build(c.resourceRoot, path, c.keepAlive, forceCode, c.id, c.out)
	if err != nil {
		return err
	}
	c.resp = resp
	c.bodyOff = 0
	return nil
}

// bodyRemaining devuelve lo que falta por escribir del cuerpo mapeado,
// si lo hay.
func (c *Connection) bodyRemaining() []byte {
	if c.resp == nil {
		return nil
	}
	body := c.resp.BodyBytes()
	if body == nil || c.bodyOff >= len(body) {
		return nil
	}
	return body[c.bodyOff:]
}

// Write hace un writev de los dos iovecs pendientes (cabeceras del
// buffer de salida + cuerpo mapeado) y avanza el progreso parcial.
func (c *Connection) Write() (int, error) {
	header := c.out.Peek()
	body := c.bodyRemaining()
	if len(header) == 0 && len(body) == 0 {
		return 0, nil
	}

	iov := make([][]byte, 0, 2)
	if len(header) > 0 {
		iov = append(iov, header)
	}
	if len(body) > 0 {
		iov = append(iov, body)
	}

	n, err := unix.Writev(c.fd, iov)
	if n > 0 {
		hlen := len(header)
		if n <= hlen {
			_ = c.out.Consume(n)
		} else {
			_ = c.out.Consume(hlen)
			c.bodyOff += n - hlen
		}
	}
	return n, err
}

// PendingWriteBytes es la suma de lo que queda de cabeceras y cuerpo
// por escribir.
func (c *Connection) PendingWriteBytes() int {
	return c.out.Readable() + len(c.bodyRemaining())
}

// ResetForNextRequest limpia el buffer de salida, el parser y la
// respuesta para atender la siguiente request sobre la misma conexión
// keep-alive. El buffer de entrada se conserva, de modo que una request
// que ya haya quedado pipelineada en él se procesa a continuación.
func (c *Connection) ResetForNextRequest() {
	if c.resp != nil {
		_ = c.resp.Close()
		c.resp = nil
	}
	c.bodyOff = 0
	c.out.Reset()
	c.parser.Reset()
}

// Close libera la región mapeada (si la hay) y cierra el fd.
func (c *Connection) Close() error {
	if c.resp != nil {
		_ = c.resp.Close()
		c.resp = nil
	}
	return unix.Close(c.fd)
}
