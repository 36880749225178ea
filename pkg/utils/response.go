package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse 是所有接口统一的错误体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON 以 status 写出 payload；编码失败时响应头已发出，只能记录日志。
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] encode %d response: %v", status, err)
	}
}

// RespondError 写出 ErrorResponse
func RespondError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	RespondJSON(w, status, ErrorResponse{Error: message})
}
