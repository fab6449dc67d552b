package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/domo-bridge/internal/audit"
	"github.com/nerrad567/domo-bridge/internal/entity"
)

// maxConfigBodySize caps POST /api/config bodies at 512 KiB.
const maxConfigBodySize = 512 << 10

// handleStatus aggregates the derived state: ?refresh=0|1.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"

	result := s.control.Status(r.Context(), refresh)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"updatedAt":     result.UpdatedAt,
		"refreshErrors": result.RefreshErrors,
		"rooms":         result.Rooms,
	})
}

// handleGetConfig returns the full normalised configuration.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.configStore.Get())
}

// handlePostConfig replaces the configuration wholesale.
//
// An empty body means "no change" and echoes the current document; a
// non-empty body is normalised, persisted and swapped in atomically.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
		return
	}

	if len(body) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"config": s.configStore.Get(),
		})
		return
	}

	doc, err := entity.ParseDocument(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidDocument)
		return
	}

	if err := s.configStore.Replace(doc); err != nil {
		s.logger.Error("config replace failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"config": doc,
	})
}

// handleAudit lists recent gateway commands: ?limit=…&offset=….
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries := []audit.Entry{}

	if s.audit != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		listed, err := s.audit.List(r.Context(), audit.Filter{Limit: limit, Offset: offset})
		if err != nil {
			s.logger.Error("audit list failed", "error", err)
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if listed != nil {
			entries = listed
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"entries": entries,
	})
}
