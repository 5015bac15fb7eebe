package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/errors"
)

func errorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(RecoveryMiddleware(log), ErrorHandlerMiddleware(log), TracingMiddleware(log))
	router.GET("/x", handler)
	return router
}

func serve(router http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestErrorHandler_SentinelError(t *testing.T) {
	w := serve(errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("lookup: %w", domain.ErrUnknownSession))
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"UNKNOWN_SESSION"`)
}

func TestErrorHandler_RelayErrorDetails(t *testing.T) {
	w := serve(errorRouter(func(c *gin.Context) {
		_ = c.Error(errors.InvalidInput("bad id").WithContext("id", "x"))
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"INVALID_INPUT","message":"bad id","details":{"id":"x"}}`, w.Body.String())
}

func TestErrorHandler_InternalErrorIsHidden(t *testing.T) {
	w := serve(errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("disk on fire"))
	}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestErrorHandler_HandlerResponseWins(t *testing.T) {
	w := serve(errorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("logged only"))
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	}))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	w := serve(errorRouter(func(c *gin.Context) {
		panic("boom")
	}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
