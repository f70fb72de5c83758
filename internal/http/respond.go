package http

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error      string      `json:"error"`
	Code       string      `json:"code,omitempty"`
	PartIDs    []string    `json:"partIds,omitempty"`
	Violations []violation `json:"violations,omitempty"`
}

type violation struct {
	PartID            string `json:"partId"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	SuggestedQuantity int    `json:"suggestedQuantity,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
