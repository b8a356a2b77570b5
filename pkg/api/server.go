package api

import (
	"encoding/json"
	"net/http"

	"github.com/texgrep/texgrep/pkg/backend"
	"github.com/texgrep/texgrep/pkg/config"
	"github.com/texgrep/texgrep/pkg/log"
)

var logger = log.ForService("api")

type Server struct {
	service *backend.Service
	cfg     *config.Config
}

func NewServer(service *backend.Service, cfg *config.Config) *Server {
	return &Server{
		service: service,
		cfg:     cfg,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
