package common

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteJSONResponse writes data as JSON with the given HTTP status
func WriteJSONResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func WriteSuccessResponse[T any](w http.ResponseWriter, data T) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse answers a start request with the new entity ID
func WriteCreatedResponse(w http.ResponseWriter, id string) {
	WriteJSONResponse(w, http.StatusCreated, EntryCreatedRS{ID: id})
}

// WriteCompletedResponse answers a finish request
func WriteCompletedResponse(w http.ResponseWriter, format string, a ...any) {
	WriteJSONResponse(w, http.StatusOK, OperationCompletionRS{Message: fmt.Sprintf(format, a...)})
}
