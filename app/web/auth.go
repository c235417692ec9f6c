package web

import (
	"net/http"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"
)

// authUser is the basic auth user name for mutating endpoints
const authUser = "permits"

// authMiddleware requires basic auth with the configured bcrypt password hash
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			log.Printf("[WARN] invalid password for %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Permits Board"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}
