package httpproto

import "context"

// htmlTags es el conjunto cerrado de rutas cortas que se reescriben a
// su página .html correspondiente.
var htmlTags = map[string]bool{
	"/register": true,
	"/login":    true,
	"/welcome":  true,
	"/video":    true,
	"/picture":  true,
}

// Verifier es la rutina de verificación de usuarios, inyectada:
// acquire-handle/query/release vive fuera de este paquete
// (internal/auth + internal/dbpool) para que ResolvePath siga siendo
// comprobable sin una base de datos real.
type Verifier func(ctx context.Context, username, password string, isLogin bool) (bool, error)

// ResolvePath aplica la reescritura de rutas: "/" pasa a
// "/index.html"; un tag conocido pasa a "/<tag>.html"; y, si el método
// es POST sobre /login o /register, invoca verify y reescribe a
// "/welcome.html" o "/error.html" según el resultado.
func ResolvePath(ctx context.Context, req Request, verify Verifier) (string, error) {
	path := req.RawPath
	if path == "/" {
		return "/index.html", nil
	}
	if !htmlTags[path] {
		return path, nil
	}
	if req.Method != "POST" || (path != "/login" && path != "/register") {
		return path + ".html", nil
	}

	username := req.PostForm["username"]
	password := req.PostForm["password"]
	isLogin := path == "/login"
	ok, err := verify(ctx, username, password, isLogin)
	if err != nil {
		return "", err
	}
	if ok {
		return "/welcome.html", nil
	}
	return "/error.html", nil
}
