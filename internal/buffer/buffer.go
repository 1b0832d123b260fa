// Package buffer implements the reactor's growable read/write staging
// area: a contiguous byte region with independent read and write
// cursors, sized to minimize syscalls under edge-triggered readiness.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// overflowSize es el tamaño de la región de desborde usada por ReadFd:
// si el socket tiene más datos de los que caben en el espacio libre
// del buffer, el resto aterriza aquí y se aplica después con Append.
const overflowSize = 65536

// ErrConsumeTooMuch se devuelve si Consume(n) pide más bytes de los
// que hay disponibles para leer.
var ErrConsumeTooMuch = errors.New("buffer: consume exceeds readable bytes")

// Buffer es la región contigua [0, cap) con cursores R (lectura) y W
// (escritura), 0 <= R <= W <= cap. No es segura para uso concurrente:
// cada Connection posee la suya y sólo el hilo que la procesa la toca.
type Buffer struct {
	data []byte
	r, w int
}

// New crea un Buffer con capacidad inicial initCap.
func New(initCap int) *Buffer {
	if initCap <= 0 {
		initCap = 1024
	}
	return &Buffer{data: make([]byte, initCap)}
}

// Readable devuelve cuántos bytes hay disponibles para leer (W-R).
func (b *Buffer) Readable() int { return b.w - b.r }

// Writable devuelve cuánto espacio libre queda al final (cap-W).
func (b *Buffer) Writable() int { return len(b.data) - b.w }

// Reset vuelve el buffer a su estado recién creado, sin liberar la
// capacidad ya reservada. Se invoca al reciclar una conexión keep-alive.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Peek devuelve una vista de sólo lectura de los bytes pendientes,
// sin mover el cursor de lectura.
func (b *Buffer) Peek() []byte { return b.data[b.r:b.w] }

// Consume avanza el cursor de lectura n bytes.
func (b *Buffer) Consume(n int) error {
	if n > b.Readable() {
		return ErrConsumeTooMuch
	}
	b.r += n
	if b.r == b.w {
		// todo leído: recicla el espacio completo, evita crecer en vano
		b.r, b.w = 0, 0
	}
	return nil
}

// IndexCRLF busca la primera ocurrencia de "\r\n" en lo pendiente por
// leer y devuelve su posición relativa a R, o -1 si no aparece aún.
func (b *Buffer) IndexCRLF() int {
	window := b.data[b.r:b.w]
	for i := 0; i+1 < len(window); i++ {
		if window[i] == '\r' && window[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// Line consume y devuelve la línea (sin el CRLF final) que empieza en
// R, si ya hay una completa; el segundo valor es false si aún no llegó
// el CRLF y no se debe mover el cursor.
func (b *Buffer) Line() (string, bool) {
	idx := b.IndexCRLF()
	if idx < 0 {
		return "", false
	}
	line := string(b.data[b.r : b.r+idx])
	_ = b.Consume(idx + 2)
	return line, true
}

// Append agrega s al final del área de escritura, creciendo o
// compactando el buffer si no hay espacio suficiente.
func (b *Buffer) Append(s []byte) {
	b.ensureWritable(len(s))
	copy(b.data[b.w:], s)
	b.w += len(s)
}

// AppendString es un atajo de Append para literales de texto.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// ensureWritable garantiza al menos n bytes libres al final,
// compactando primero (desplazando [R,W) a 0) y, si no alcanza,
// creciendo la capacidad.
func (b *Buffer) ensureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	// compactar: mueve los datos pendientes al inicio, libera [0,R)
	if b.r > 0 {
		copy(b.data, b.data[b.r:b.w])
		b.w -= b.r
		b.r = 0
	}
	if b.Writable() >= n {
		return
	}
	// seguir sin alcanzar: duplicar hasta que quepa
	newCap := len(b.data) * 2
	if newCap == 0 {
		newCap = 1024
	}
	for newCap-b.w < n {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.w])
	b.data = grown
}

// ReadFd hace un scatter-read desde fd: llena primero la cola libre del
// buffer y, si el socket trae más datos de los que caben, el resto cae
// en una región de desborde que luego se anexa con Append. Esto evita
// crecer el buffer sólo para absorber una ráfaga puntual y minimiza
// syscalls bajo modo edge-triggered (hay que drenar hasta EAGAIN).
func (b *Buffer) ReadFd(fd int) (int, error) {
	var overflow [overflowSize]byte

	b.ensureWritable(1) // al menos algo de espacio directo en el buffer
	iov := [][]byte{b.data[b.w:], overflow[:]}

	n, err := unix.Readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	direct := len(b.data) - b.w
	if n <= direct {
		b.w += n
		return n, err
	}
	b.w = len(b.data)
	rest := n - direct
	b.Append(overflow[:rest])
	return n, err
}
