package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/vaidashi/rachma-marketplace/internal/archive"
	"github.com/vaidashi/rachma-marketplace/internal/service"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ApiResponse struct {
	Success bool               `json:"success"`
	Data    interface{}        `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Fields  errors.FieldErrors `json:"fields,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database,omitempty"`
	Delivery  string `json:"delivery,omitempty"`
}

// ArchiveView is the client facing description of a bundle
type ArchiveView struct {
	Token       string    `json:"token"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Included    []string  `json:"included"`
	Skipped     []string  `json:"skipped,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	DownloadURL string    `json:"download_url"`
}

func newArchiveView(a *archive.Archive) ArchiveView {
	return ArchiveView{
		Token:       a.Token,
		Name:        a.Name,
		Size:        a.Size,
		Included:    a.Included,
		Skipped:     a.Skipped,
		ExpiresAt:   a.ExpiresAt,
		DownloadURL: "/api/v1/archives/" + a.Token,
	}
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "0.1.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}
	code := http.StatusOK

	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health.Database = "ok"
		if err := s.deps.Database.Ping(ctx); err != nil {
			s.logger.Warn("Health check database ping failed", "error", err)
			health.Status = "degraded"
			health.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	if s.deps.Breaker != nil {
		health.Delivery = s.deps.Breaker.GetState().String()
	}

	s.respondWithJSON(w, code, ApiResponse{
		Success: code == http.StatusOK,
		Data:    health,
	})
}

// createOrderHandler places a pending order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := s.deps.Orders.CreateOrder(r.Context(), req)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getOrderHandler returns an order with its items
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getClientOrdersHandler lists the orders of one client, newest first
func (s *Server) getClientOrdersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		s.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	orders, err := s.deps.Orders.GetClientOrders(r.Context(), mux.Vars(r)["id"], limit, offset)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    orders,
	})
}

// changeOrderStatusHandler applies an admin status change and reports the outcome
func (s *Server) changeOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req service.StatusChangeRequest
	if !s.decode(w, r, &req) {
		return
	}

	outcome, err := s.deps.Fulfillment.ChangeStatus(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	response := ApiResponse{Success: outcome.Success, Data: outcome}
	if !outcome.Success {
		response.Error = outcome.Detail
		response.Fields = outcome.FieldErrors
	}

	s.respondWithJSON(w, outcomeStatus(outcome), response)
}

func outcomeStatus(outcome *service.Outcome) int {
	switch outcome.ErrorKind {
	case service.ErrorKindValidation:
		return http.StatusUnprocessableEntity
	case service.ErrorKindFileDelivery:
		return http.StatusConflict
	}
	return http.StatusOK
}

// getDeliverablesHandler previews what completing the order would send
func (s *Server) getDeliverablesHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Fulfillment.Deliverables(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    view,
	})
}

// buildArchiveHandler packages the files of a completed order for its client
func (s *Server) buildArchiveHandler(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		s.respondWithError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	bundle, err := s.deps.Archives.BuildForOrder(r.Context(), mux.Vars(r)["id"], clientID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    newArchiveView(bundle),
	})
}

// downloadArchiveHandler streams a bundle while its token is live
func (s *Server) downloadArchiveHandler(w http.ResponseWriter, r *http.Request) {
	bundle, f, err := s.deps.Archives.Open(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+bundle.Name+`"`)
	http.ServeContent(w, r, bundle.Name, bundle.CreatedAt, f)
}

// getChatHandler checks that a delivery address resolves on the bot API
func (s *Server) getChatHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chats == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "chat lookup is not configured")
		return
	}

	chatID, err := strconv.ParseInt(mux.Vars(r)["chatID"], 10, 64)
	if err != nil || chatID == 0 {
		s.respondWithError(w, http.StatusBadRequest, "chat id must be a non-zero integer")
		return
	}

	chat, err := s.deps.Chats.GetChat(r.Context(), chatID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    chat,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// decode reads a JSON body into dst, answering 400 when it cannot
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// respondWithAppError maps service errors onto status codes
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	var fields errors.FieldErrors
	if stderrors.As(err, &fields) {
		s.respondWithJSON(w, http.StatusBadRequest, ApiResponse{
			Success: false,
			Error:   fields.Error(),
			Fields:  fields,
		})
		return
	}

	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "status", code)
	}
	if code == http.StatusInternalServerError {
		s.respondWithError(w, code, "internal server error")
		return
	}

	s.respondWithError(w, code, err.Error())
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
