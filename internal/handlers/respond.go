package handlers

import (
	"encoding/json"
	"net/http"
)

const (
	codeSlotUnavailable  = "SLOT_UNAVAILABLE"
	codeInvalidReference = "INVALID_REFERENCE"
	codeVersionConflict  = "VERSION_CONFLICT"
	codeAlreadyTerminal  = "ALREADY_TERMINAL"
	codeNotFound         = "NOT_FOUND"
	codeUnauthorized     = "UNAUTHORIZED"
	codeInvalidArgument  = "INVALID_ARGUMENT"
	codeInternal         = "INTERNAL"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
