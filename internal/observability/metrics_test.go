package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPMetricsUseRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/chats/:chat_id/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "/chats/:chat_id/messages", "200")
	miss := httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	beforeOK, beforeMiss := testutil.ToFloat64(ok), testutil.ToFloat64(miss)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/chats/abc/messages", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeMiss+1, testutil.ToFloat64(miss))
}

func TestGRPCInterceptorCountsCodes(t *testing.T) {
	interceptor := GRPCServerMetricsUnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	counter := grpcServerHandledTotal.WithLabelValues("grpc.health.v1.Health", "Check", codes.NotFound.String())
	before := testutil.ToFloat64(counter)

	_, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/pkg.Service/Method")
	assert.Equal(t, "pkg.Service", service)
	assert.Equal(t, "Method", method)

	service, method = splitFullMethod("garbage")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}
