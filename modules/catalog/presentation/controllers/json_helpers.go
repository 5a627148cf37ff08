package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/presentation/controllers/dtos"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/services"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		panic(err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &dtos.APIError{
		Code:    code,
		Message: message,
	})
}

// writeServiceError translates workflow errors into their HTTP shape. Anything
// that is not a coded service error is masked as a plain 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		writeJSONError(w, svcErr.Status, svcErr.Code, svcErr.Message)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, services.CodeServerError, "internal error")
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, services.CodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}
