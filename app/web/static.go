package web

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// handleStatic serves front-end files. Reserved internal files are never exposed,
// even when the static directory is the data directory.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	if s.isReserved(name) {
		s.writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	st, err := fs.Stat(s.assets, name)
	if err != nil || st.IsDir() {
		s.writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFileFS(w, r, s.assets, name)
}

// isReserved checks the file name and every path element against reserved names
func (s *Server) isReserved(name string) bool {
	if s.reserved[name] {
		return true
	}
	for _, elem := range strings.Split(name, "/") {
		if s.reserved[elem] {
			return true
		}
	}
	return false
}
