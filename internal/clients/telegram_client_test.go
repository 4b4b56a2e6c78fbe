package clients

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/circuitbreaker"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

func newTestTelegramClient(t *testing.T, handler http.HandlerFunc) (*TelegramClient, *int32) {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "rachmat"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "rachmat", "rose.dst"), []byte("dst-bytes"), 0o644))
	disk, err := storage.NewLocalDisk(root)
	require.NoError(t, err)

	client := NewTelegramClient(config.TelegramConfig{
		BotToken:         "TOKEN",
		APIBaseURL:       srv.URL + "/",
		RequestTimeout:   2 * time.Second,
		BreakerThreshold: 2,
		BreakerReset:     time.Minute,
	}, storage.NewDisks(map[string]storage.Backend{storage.DiskPrivate: disk}), logger.NewNop())

	return client, &calls
}

func writeAPIResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestTelegramClient_SendText(t *testing.T) {
	var got map[string]interface{}
	client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeAPIResponse(w, http.StatusOK, `{"ok":true,"result":{"message_id":1}}`)
	})

	assert.True(t, client.SendText(context.Background(), 4242, "Your order is ready"))
	assert.Equal(t, float64(4242), got["chat_id"])
	assert.Equal(t, "Your order is ready", got["text"])
}

func TestTelegramClient_SendFile(t *testing.T) {
	t.Run("streams the stored file", func(t *testing.T) {
		client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/botTOKEN/sendDocument", r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "4242", r.FormValue("chat_id"))
			assert.Equal(t, "Rose (dst)", r.FormValue("caption"))

			file, header, err := r.FormFile("document")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "rose.dst", header.Filename)
			assert.Equal(t, "dst-bytes", string(data))

			writeAPIResponse(w, http.StatusOK, `{"ok":true,"result":{}}`)
		})

		ok := client.SendFile(context.Background(), 4242, Document{
			Disk:    storage.DiskPrivate,
			Path:    "rachmat/rose.dst",
			Name:    "rose.dst",
			Caption: "Rose (dst)",
		})
		assert.True(t, ok)
	})

	t.Run("missing file is permanent and never hits the API", func(t *testing.T) {
		client, calls := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeAPIResponse(w, http.StatusOK, `{"ok":true}`)
		})

		err := client.SendDocument(context.Background(), 4242, Document{Disk: storage.DiskPrivate, Path: "rachmat/gone.dst", Name: "gone.dst"})

		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrPermanentFailure))
		assert.False(t, errors.IsRetryable(err))
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
		assert.False(t, client.SendFile(context.Background(), 4242, Document{Disk: storage.DiskPrivate, Path: "rachmat/gone.dst"}))
	})
}

func TestTelegramClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`, errors.ErrRateLimited, true},
		{"server error", http.StatusBadGateway, `bad gateway`, errors.ErrTemporaryFailure, true},
		{"gateway timeout", http.StatusGatewayTimeout, `{"ok":false}`, errors.ErrTimeout, true},
		{"blocked by user", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, errors.ErrPermanentFailure, false},
		{"chat not found", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, errors.ErrPermanentFailure, false},
		{"ok false with 200", http.StatusOK, `{"ok":false,"description":"weird"}`, errors.ErrPermanentFailure, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIResponse(w, tt.status, tt.body)
			})

			err := client.SendMessage(context.Background(), 1, "hi")

			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}

	t.Run("retry_after is kept in context", func(t *testing.T) {
		client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeAPIResponse(w, http.StatusTooManyRequests, `{"ok":false,"error_code":429,"parameters":{"retry_after":7}}`)
		})

		err := client.SendMessage(context.Background(), 1, "hi")

		var appErr *errors.AppError
		require.True(t, stderrors.As(err, &appErr))
		assert.Equal(t, 7, appErr.Context["retry_after"])
	})
}

func TestTelegramClient_GetChat(t *testing.T) {
	client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/getChat", r.URL.Path)
		writeAPIResponse(w, http.StatusOK, `{"ok":true,"result":{"id":4242,"type":"private","first_name":"Amina"}}`)
	})

	chat, err := client.GetChat(context.Background(), 4242)

	require.NoError(t, err)
	assert.Equal(t, int64(4242), chat.ID)
	assert.Equal(t, "private", chat.Type)
	assert.Equal(t, "Amina", chat.FirstName)
}

func TestTelegramClient_CircuitBreaker(t *testing.T) {
	client, calls := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIResponse(w, http.StatusServiceUnavailable, `{"ok":false,"error_code":503}`)
	})
	ctx := context.Background()

	require.Error(t, client.SendMessage(ctx, 1, "a"))
	require.Error(t, client.SendMessage(ctx, 1, "b"))
	assert.Equal(t, circuitbreaker.StateOpen, client.Breaker().GetState())

	err := client.SendMessage(ctx, 1, "c")
	assert.True(t, stderrors.Is(err, errors.ErrServiceUnavailable))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestTelegramClient_PermanentErrorsDoNotTripBreaker(t *testing.T) {
	client, _ := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIResponse(w, http.StatusForbidden, `{"ok":false,"error_code":403}`)
	})

	for i := 0; i < 5; i++ {
		_ = client.SendMessage(context.Background(), 1, "x")
	}

	assert.Equal(t, circuitbreaker.StateClosed, client.Breaker().GetState())
}
