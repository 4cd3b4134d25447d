package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/CLIAIMONITOR/internal/errs"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[SERVER] failed to encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var typed *errs.Error
	if errors.As(err, &typed) {
		status = statusForKind(typed.Kind)
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForKind(k errs.Kind) int {
	switch k {
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.DependencyMissing:
		return http.StatusUnprocessableEntity
	case errs.Timeout:
		return http.StatusGatewayTimeout
	case errs.UpstreamUnavailable:
		return http.StatusBadGateway
	case errs.IOFailure, errs.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
