package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
)

// DesignerView is a designer with the balance still owed
type DesignerView struct {
	*models.Designer
	UnpaidEarnings string `json:"unpaid_earnings"`
}

// OutboxMessageView shows the payload as JSON instead of base64
type OutboxMessageView struct {
	*models.OutboxMessage
	Payload json.RawMessage `json:"payload"`
}

// getDesignerHandler returns a designer's credited and paid earnings
func (s *Server) getDesignerHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Designers == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "designer lookup is not configured")
		return
	}

	id := mux.Vars(r)["id"]
	designer, err := s.deps.Designers.GetByID(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			err = errors.NewNotFoundError("designer " + id + " not found")
		}
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: DesignerView{
			Designer:       designer,
			UnpaidEarnings: designer.UnpaidEarnings().StringFixed(2),
		},
	})
}

// getOutboxMessageHandler shows the delivery state of one queued event
func (s *Server) getOutboxMessageHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outbox == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "outbox lookup is not configured")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid outbox message id")
		return
	}

	message, err := s.deps.Outbox.GetMessage(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			err = errors.NewNotFoundError("outbox message " + strconv.FormatInt(id, 10) + " not found")
		}
		s.respondWithAppError(w, err)
		return
	}

	view := OutboxMessageView{OutboxMessage: message}
	if json.Valid(message.Payload) {
		view.Payload = message.Payload
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view})
}
