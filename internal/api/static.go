package api

import (
	"net/http"
	"os"
	"path/filepath"
)

// servePage serves one HTML page from the configured web directory.
// Pages are read per-request so an operator can edit them in place;
// no-store keeps smartphone browsers from caching a stale UI.
func (s *Server) servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := os.ReadFile(filepath.Join(s.cfg.WebDir, name))
		if err != nil {
			writeError(w, http.StatusNotFound, msgNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
