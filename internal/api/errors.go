package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketsim/internal/auth"
	"marketsim/internal/save"
	"marketsim/internal/sim"
)

// errorBody is the wire envelope for every failure: a stable tag and a
// human-readable message, never internals.
type errorBody struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, tag, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Tag: tag, Message: message}})
}

// writeAuthError maps auth package errors onto the wire.
func writeAuthError(w http.ResponseWriter, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Validation", verr.Message)
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "Exists", "identifier already registered")
	case errors.Is(err, auth.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "BadCredentials", "identifier or password incorrect")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "RateLimited", "too many login attempts, slow down")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "user not found")
	default:
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
	}
}

// writeSaveError maps save store errors onto the wire.
func writeSaveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, save.ErrBadCode), errors.Is(err, save.ErrBadPresetName):
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
	case errors.Is(err, save.ErrCodeNotFound), errors.Is(err, save.ErrPresetNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, save.ErrCollisionExhausted):
		writeError(w, http.StatusInternalServerError, "CollisionExhausted", "could not allocate a save code")
	default:
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
	}
}

// writeTradeError maps trade rejections onto the human-order path: validation
// and lookup failures get their HTTP status, domain rules surface as 400 with
// the rule's tag.
func writeTradeError(w http.ResponseWriter, err error) {
	re, ok := sim.AsReject(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}
	switch re {
	case sim.ErrSymbolUnknown:
		writeError(w, http.StatusNotFound, "NotFound", re.Message)
	default:
		writeError(w, http.StatusBadRequest, re.Tag, re.Message)
	}
}
