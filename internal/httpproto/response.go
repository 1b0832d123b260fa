package httpproto

import (
	"fmt"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"

	"webreactor/internal/buffer"
)

var reasons = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// inlineErrorBody es el respaldo cuando ni el archivo pedido ni su
// página de error estática existen.
func inlineErrorBody(code int) []byte {
	return []byte(fmt.Sprintf("<html><head><title>%d %s</title></head><body>%d %s</body></html>",
		code, reasons[code], code, reasons[code]))
}

// Response representa una respuesta ya construida: las cabeceras viven
// en el buffer de salida de la conexión, el cuerpo es o una región
// mapeada en memoria (archivo servido) o nil si se usó el cuerpo en
// línea (que ya quedó anexado al mismo buffer de salida).
type Response struct {
	Code      int
	KeepAlive bool
	mapped    mmap.MMap
}

// BodyBytes devuelve la región mapeada a enviar junto al buffer de
// cabeceras en el scatter-write, o nil si el cuerpo ya viajó inline.
func (r *Response) BodyBytes() []byte {
	if r.mapped == nil {
		return nil
	}
	return []byte(r.mapped)
}

// Close libera la región mapeada, si la hay.
func (r *Response) Close() error {
	if r.mapped == nil {
		return nil
	}
	err := r.mapped.Unmap()
	r.mapped = nil
	return err
}

// resolveUnderRoot ancla path a resourceRoot, rechazando cualquier
// intento de escapar con "..".
func resolveUnderRoot(resourceRoot, reqPath string) string {
	clean := filepath.Clean("/" + reqPath)
	return filepath.Join(resourceRoot, clean)
}

// Build arma la respuesta completa: stat → selección de código →
// reescritura a página de error → cabeceras → mmap del cuerpo, con
// caída a un cuerpo en línea si el open/mmap falla.
// forceCode, si no es 0, fija el código de estado explícitamente (un
// fallo de parseo o de verify) en vez de derivarlo del stat de
// reqPath; así el stat de la propia página de error (que normalmente
// existe y es legible) nunca sobreescribe un 400 a 200.
// connID, si no está vacío, se emite como X-Request-Id; a diferencia
// del fd, sobrevive a la reutilización de éste por el SO.
func Build(resourceRoot, reqPath string, keepAlive bool, forceCode int, connID string, out *buffer.Buffer) (*Response, error) {
	path := reqPath
	abs := resolveUnderRoot(resourceRoot, path)

	var code int
	var info os.FileInfo
	if forceCode != 0 {
		code = forceCode
	} else {
		code, info = statCode(abs)
	}
	if code != 200 {
		path = fmt.Sprintf("/%d.html", code)
		abs = resolveUnderRoot(resourceRoot, path)
		if st, err := os.Stat(abs); err == nil && !st.IsDir() {
			info = st
		} else {
			info = nil
		}
	}

	out.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reasons[code]))
	if keepAlive {
		out.AppendString("Connection: keep-alive\r\n")
		out.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		out.AppendString("Connection: close\r\n")
	}
	out.AppendString(fmt.Sprintf("Content-type: %s\r\n", mimeForPath(path)))
	if connID != "" {
		out.AppendString(fmt.Sprintf("X-Request-Id: %s\r\n", connID))
	}

	resp := &Response{Code: code, KeepAlive: keepAlive}

	if info == nil {
		body := inlineErrorBody(code)
		out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
		out.Append(body)
		return resp, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		body := inlineErrorBody(code)
		out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
		out.Append(body)
		return resp, nil
	}
	defer f.Close()

	size := info.Size()
	if size == 0 {
		// mmap de longitud 0 falla en Linux; cuerpo vacío servido tal cual.
		out.AppendString("Content-length: 0\r\n\r\n")
		return resp, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		body := inlineErrorBody(code)
		out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
		out.Append(body)
		return resp, nil
	}

	out.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
	resp.mapped = m
	return resp, nil
}

// statCode clasifica el archivo pedido: falta o es directorio → 404;
// no legible por "otros" → 403; si no, 200.
func statCode(abs string) (int, os.FileInfo) {
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return 404, nil
	}
	if info.Mode().Perm()&0o004 == 0 {
		return 403, nil
	}
	return 200, info
}
