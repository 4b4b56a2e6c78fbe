package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of the bot API circuit breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Breaker == nil {
		s.respondWithError(w, http.StatusNotFound, "no circuit breaker configured")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Breaker.GetMetrics()})
}

// resetCircuitBreakerHandler closes the circuit so deliveries are attempted again
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Breaker == nil {
		s.respondWithError(w, http.StatusNotFound, "no circuit breaker configured")
		return
	}

	s.deps.Breaker.Reset()
	s.logger.Warn("Delivery circuit breaker reset by admin", "remoteAddr", r.RemoteAddr)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
			"state":   s.deps.Breaker.GetState().String(),
		},
	})
}
