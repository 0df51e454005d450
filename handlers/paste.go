package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/pastebin-lite/config"
	"github.com/johnwmail/pastebin-lite/internal/services"
	"github.com/johnwmail/pastebin-lite/storage"
	"go.uber.org/zap"
)

// TestNowHeader carries the evaluation instant, in Unix milliseconds, when
// test mode is enabled
const TestNowHeader = "x-test-now-ms"

// timestampLayout renders expires_at as UTC with millisecond precision
const timestampLayout = "2006-01-02T15:04:05.000Z"

// PasteHandler handles paste creation and retrieval
type PasteHandler struct {
	service *services.PasteService
	config  *config.Config
	logger  *zap.Logger
}

// NewPasteHandler creates a new paste handler
func NewPasteHandler(service *services.PasteService, config *config.Config, logger *zap.Logger) *PasteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasteHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type fetchResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

// respondError writes a JSON error body
func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// Create handles paste creation via POST /api/pastes
func (h *PasteHandler) Create(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondError(c, http.StatusBadRequest, services.ErrInvalidJSON.Message)
		return
	}

	req, err := services.DecodeCreatePasteRequest(body)
	if err != nil {
		h.respondCreateError(c, err)
		return
	}

	paste, err := h.service.CreatePaste(c.Request.Context(), req)
	if err != nil {
		h.respondCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createResponse{
		ID:  paste.ID,
		URL: pasteURL(c, h.config, paste.ID),
	})
}

// Fetch handles JSON retrieval via GET /api/pastes/:id. Every successful call
// counts as one view.
func (h *PasteHandler) Fetch(c *gin.Context) {
	result, err := h.service.FetchPaste(c.Request.Context(), c.Param("id"), h.requestClock(c))
	if err != nil {
		if isMissing(err) {
			respondError(c, http.StatusNotFound, "Not Found")
			return
		}
		h.logger.Error("failed to fetch paste", zap.String("id", c.Param("id")), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, fetchResponse{
		Content:        result.Content,
		RemainingViews: result.RemainingViews,
		ExpiresAt:      formatTimestamp(result.ExpiresAt),
	})
}

// View handles the HTML page via GET /p/:id. It consumes a view exactly like
// Fetch does.
func (h *PasteHandler) View(c *gin.Context) {
	result, err := h.service.FetchPaste(c.Request.Context(), c.Param("id"), h.requestClock(c))
	if err != nil {
		if isMissing(err) {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		h.logger.Error("failed to render paste", zap.String("id", c.Param("id")), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	var remaining int64
	if result.RemainingViews != nil {
		remaining = *result.RemainingViews
	}
	var expires string
	if ts := formatTimestamp(result.ExpiresAt); ts != nil {
		expires = *ts
	}

	c.HTML(http.StatusOK, "view.html", gin.H{
		"Title":          "Paste " + c.Param("id"),
		"Content":        result.Content,
		"HasViewLimit":   result.RemainingViews != nil,
		"RemainingViews": remaining,
		"ExpiresAt":      expires,
		"BaseURL":        baseURL(c, h.config),
	})
}

func (h *PasteHandler) readBody(c *gin.Context) ([]byte, error) {
	if h.config.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxBodyBytes)
	}
	return io.ReadAll(c.Request.Body)
}

func (h *PasteHandler) respondCreateError(c *gin.Context, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		respondError(c, http.StatusBadRequest, verr.Message)
		return
	}
	h.logger.Error("failed to create paste", zap.Error(err))
	respondError(c, http.StatusInternalServerError, "Internal Server Error")
}

// requestClock picks the instant used to judge expiry. Outside test mode, or
// when the header is missing or malformed, it is the wall clock.
func (h *PasteHandler) requestClock(c *gin.Context) services.Clock {
	if !h.config.TestMode {
		return services.WallClock
	}
	raw := strings.TrimSpace(c.GetHeader(TestNowHeader))
	if raw == "" {
		return services.WallClock
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.logger.Debug("ignoring malformed test clock header", zap.String("value", raw))
		return services.WallClock
	}
	return services.FixedClock(time.UnixMilli(ms))
}

func isMissing(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, services.ErrUnavailable)
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timestampLayout)
	return &s
}
