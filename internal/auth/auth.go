// Package auth implements the user-verify routine behind the /login
// and /register form posts: over a checked-out DB handle, check or
// insert a row in the users table and report whether the request
// resolves to /welcome.html or /error.html. Queries are parameterized
// ($1, $2); user input never reaches the SQL text.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrExists se devuelve por Verify cuando isLogin es false (registro)
// y el usuario ya existe; el llamador lo trata igual que un fallo
// (responde /error.html) pero puede distinguirlo para logging.
var ErrExists = errors.New("auth: user already exists")

// Verify comprueba credenciales: en login, selecciona la contraseña
// del usuario y compara; en registro, comprueba primero que no exista
// y, si no existe, lo inserta. Devuelve true si la petición debe
// resolverse como éxito (/welcome.html).
func Verify(ctx context.Context, conn *sql.Conn, username, password string, isLogin bool) (bool, error) {
	if isLogin {
		return verifyLogin(ctx, conn, username, password)
	}
	return verifyRegister(ctx, conn, username, password)
}

func verifyLogin(ctx context.Context, conn *sql.Conn, username, password string) (bool, error) {
	var stored string
	err := conn.QueryRowContext(ctx,
		`SELECT password FROM users WHERE username = $1`, username,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: login lookup: %w", err)
	}
	return stored == password, nil
}

func verifyRegister(ctx context.Context, conn *sql.Conn, username, password string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("auth: register lookup: %w", err)
	}
	if exists {
		return false, ErrExists
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2)`, username, password)
	if err != nil {
		return false, fmt.Errorf("auth: register insert: %w", err)
	}
	return true, nil
}
