package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartSpanNewTrace(t *testing.T) {
	tracer := New("policyd", zap.NewNop())

	span, ctx := tracer.StartSpan(context.Background(), "evaluate")
	require.NotNil(t, span)
	assert.NotEmpty(t, span.TraceID)
	assert.NotEmpty(t, span.SpanID)
	assert.Empty(t, span.ParentID)
	assert.Equal(t, "policyd", span.Service)

	assert.Equal(t, span.TraceID, GetTraceID(ctx))
	assert.Equal(t, span.SpanID, GetSpanID(ctx))
}

func TestStartSpanInheritsTrace(t *testing.T) {
	tracer := New("policyd", zap.NewNop())

	parent, ctx := tracer.StartSpan(context.Background(), "outer")
	child, _ := tracer.StartSpan(ctx, "inner")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestSpanLifecycle(t *testing.T) {
	tracer := New("policyd", zap.NewNop())

	span, _ := tracer.StartSpan(context.Background(), "load")
	span.SetTag("policy", "https://a.com/crossdomain.xml")
	span.SetStatus(200)
	span.Finish()

	assert.False(t, span.EndTime.IsZero())
	assert.GreaterOrEqual(t, span.Duration, time.Duration(0))
	assert.Equal(t, "https://a.com/crossdomain.xml", span.Tags["policy"])

	span.SetError(errors.New("boom"))
	assert.Equal(t, 500, span.StatusCode)

	// Submit never blocks, full buffer or not.
	for i := 0; i < 1100; i++ {
		tracer.Submit(span)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("policyd", zap.NewNop())

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/ping", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	// Without incoming headers a fresh trace is minted and echoed.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, string(seen), w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	// Incoming trace identifiers are continued, not replaced.
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(HeaderTraceID, "req_upstream")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, TraceID("req_upstream"), seen)
	assert.Equal(t, "req_upstream", w.Header().Get(HeaderTraceID))
}
