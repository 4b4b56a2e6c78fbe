package clients

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/circuitbreaker"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

const maxResponseBody = 1 << 20

// Document is a stored file to push to a chat
type Document struct {
	Disk    string
	Path    string
	Name    string
	Caption string
}

// Chat is the subset of the bot API chat object we read
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// apiResponse is the envelope of every bot API reply
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	RetryAfter      int   `json:"retry_after,omitempty"`
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
}

// TelegramClient is a client for the chat bot HTTP API. Every call is a
// single attempt; retries belong to FileDelivery.
type TelegramClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	files      storage.Storage
	breaker    *circuitbreaker.CircuitBreaker
	logger     logger.Logger
}

// NewTelegramClient creates a new TelegramClient instance
func NewTelegramClient(cfg config.TelegramConfig, files storage.Storage, logger logger.Logger) *TelegramClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &TelegramClient{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		token:      cfg.BotToken,
		httpClient: &http.Client{Timeout: timeout},
		files:      files,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "telegram",
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     cfg.BreakerReset,
			HalfOpenMaxCalls: 1,
		}),
		logger: logger,
	}
}

// Breaker exposes the circuit breaker guarding the bot API
func (c *TelegramClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// SendText sends a message, reporting success only
func (c *TelegramClient) SendText(ctx context.Context, chatID int64, text string) bool {
	if err := c.SendMessage(ctx, chatID, text); err != nil {
		c.logger.Warn("Failed to send message", "error", err, "chatID", chatID)
		return false
	}
	return true
}

// SendFile sends a stored file, reporting success only
func (c *TelegramClient) SendFile(ctx context.Context, chatID int64, doc Document) bool {
	if err := c.SendDocument(ctx, chatID, doc); err != nil {
		c.logger.Warn("Failed to send file", "error", err, "chatID", chatID, "disk", doc.Disk, "path", doc.Path)
		return false
	}
	return true
}

// SendMessage calls sendMessage and returns a classified error
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	return c.do(ctx, "sendMessage", nil, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// SendDocument streams a stored file to sendDocument and returns a classified error
func (c *TelegramClient) SendDocument(ctx context.Context, chatID int64, doc Document) error {
	return c.do(ctx, "sendDocument", nil, func() (*http.Request, error) {
		file, err := c.files.Open(ctx, doc.Disk, doc.Path)
		if err != nil {
			return nil, err
		}

		pr, pw := io.Pipe()
		form := multipart.NewWriter(pw)

		go func() {
			defer file.Close()
			pw.CloseWithError(writeDocumentForm(form, chatID, doc, file))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		return req, nil
	})
}

func writeDocumentForm(form *multipart.Writer, chatID int64, doc Document, file io.Reader) error {
	if err := form.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if doc.Caption != "" {
		if err := form.WriteField("caption", doc.Caption); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("document", doc.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}

	return form.Close()
}

// GetChat looks up a chat, used to check that a delivery address is reachable
func (c *TelegramClient) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	body, err := json.Marshal(map[string]interface{}{"chat_id": chatID})
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	var chat Chat
	err = c.do(ctx, "getChat", &chat, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("getChat"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return &chat, nil
}

func (c *TelegramClient) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// do runs one API call through the circuit breaker. result, when set,
// receives the decoded result field.
func (c *TelegramClient) do(ctx context.Context, method string, result interface{}, build func() (*http.Request, error)) error {
	call := func() error {
		req, err := build()
		if err != nil {
			if stderrors.Is(err, storage.ErrFileNotFound) || stderrors.Is(err, storage.ErrInvalidPath) {
				return errors.NewPermanentError(fmt.Sprintf("file unavailable: %v", err))
			}
			return errors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Check for timeout
			var netErr net.Error
			if (stderrors.As(err, &netErr) && netErr.Timeout()) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.NewTimeoutError(fmt.Sprintf("%s request timed out", method))
			}
			return errors.NewTemporaryError(fmt.Sprintf("failed to send request: %v", err))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return errors.NewTemporaryError(fmt.Sprintf("failed to read response body: %v", err))
		}

		var envelope apiResponse
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return errors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
		}

		if err := classifyResponse(method, resp.StatusCode, &envelope); err != nil {
			return err
		}

		if result != nil && len(envelope.Result) > 0 {
			if err := json.Unmarshal(envelope.Result, result); err != nil {
				return errors.NewInternalError(fmt.Sprintf("failed to parse %s result: %v", method, err))
			}
		}

		return nil
	}

	err := c.breaker.Execute(call, tripsBreaker)
	if stderrors.Is(err, circuitbreaker.ErrOpen) {
		return errors.NewAppError(errors.ErrServiceUnavailable, "bot API circuit is open", http.StatusServiceUnavailable, false)
	}
	return err
}

// classifyResponse maps an API reply onto the error taxonomy:
// 429, 5xx and timeouts are retryable, other client errors are not.
func classifyResponse(method string, status int, r *apiResponse) error {
	if status < http.StatusMultipleChoices && r.OK {
		return nil
	}

	code := r.ErrorCode
	if code == 0 {
		code = status
	}

	desc := r.Description
	if desc == "" {
		desc = http.StatusText(status)
	}
	message := fmt.Sprintf("%s failed (%d): %s", method, code, desc)

	switch {
	case code == http.StatusTooManyRequests:
		appErr := errors.NewRateLimitedError(message)
		if r.Parameters != nil && r.Parameters.RetryAfter > 0 {
			appErr.WithContext("retry_after", r.Parameters.RetryAfter)
		}
		return appErr
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return errors.NewTimeoutError(message)
	case code >= http.StatusInternalServerError:
		return errors.NewTemporaryError(message)
	default:
		return errors.NewPermanentError(message).WithContext("error_code", code)
	}
}

// tripsBreaker counts only failures that point at the API being unhealthy
func tripsBreaker(err error) bool {
	return stderrors.Is(err, errors.ErrTemporaryFailure) || stderrors.Is(err, errors.ErrTimeout)
}
