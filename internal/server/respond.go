// Package server carries the shared HTTP plumbing: the response envelope
// and the authentication middleware.
package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// envelope is the wire shape of every API response.
type envelope struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	HTTPCode int    `json:"http_code,omitempty"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, envelope{Success: true, Data: data})
}

// Error writes a failure envelope carrying the stable error code.
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, envelope{
		Success:  false,
		Code:     code,
		Message:  message,
		HTTPCode: status,
	})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[http] write response: %v", err)
	}
}
