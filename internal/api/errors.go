package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
	"github.com/nerrad567/domo-bridge/internal/control"
	"github.com/nerrad567/domo-bridge/internal/entity"
)

// Error phrases shown verbatim by the control pages.
const (
	msgMissingParameter = "parametro mancante"
	msgInvalidParameter = "parametro non valido"
	msgInvalidDocument  = "documento di configurazione non valido"
	msgBodyTooLarge     = "corpo della richiesta troppo grande"
	msgUnauthorised     = "token non valido"
	msgNotFound         = "non trovato"
	msgMethodNotAllowed = "metodo non consentito"
	msgProtocolError    = "risposta del gateway non valida"
	msgTimeout          = "timeout del gateway"
	msgTransport        = "gateway non raggiungibile"
	msgInternal         = "errore interno"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the {ok:false, error:…} envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": message,
	})
}

// writeDomainError maps a service error onto an HTTP status and phrase.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, algodomo.ErrUnknownAction),
		errors.Is(err, algodomo.ErrInvalidChannel),
		errors.Is(err, control.ErrInvalidSetpoint),
		errors.Is(err, control.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, msgInvalidParameter)
	case errors.Is(err, algodomo.ErrTimeout):
		writeError(w, http.StatusInternalServerError, msgTimeout)
	case errors.Is(err, algodomo.ErrProtocol),
		errors.Is(err, algodomo.ErrNoReply),
		errors.Is(err, algodomo.ErrInvalidFrame):
		writeError(w, http.StatusInternalServerError, msgProtocolError)
	case errors.Is(err, algodomo.ErrTransport):
		writeError(w, http.StatusInternalServerError, msgTransport)
	default:
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
