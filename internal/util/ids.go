// Package util agrupa pequeños ayudantes transversales, como la
// generación de identificadores para correlacionar conexiones y
// requests en los logs.
package util

import "github.com/google/uuid"

// NewConnID genera un identificador de conexión para correlacionar
// trazas entre accept, los workers que la procesan y el log de cierre.
func NewConnID() string {
	return uuid.NewString()
}
