package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDGeneratesNewIDWhenHeaderMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seen any
	router.GET("/x", CorrelationID(), func(c *gin.Context) {
		seen, _ = c.Get(string(logging.CorrelationIDKey))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	header := w.Header().Get(HeaderXCorrelationID)
	assert.NotEmpty(t, header)
	assert.Equal(t, header, seen)
}

func TestCorrelationIDPreservesIncomingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", CorrelationID(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXCorrelationID, "fixed-id-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "fixed-id-123", w.Header().Get(HeaderXCorrelationID))
}
