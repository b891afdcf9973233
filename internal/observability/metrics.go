package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ciphertalk_http_requests_total",
			Help: "Total number of HTTP requests processed by the service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ciphertalk_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ciphertalk_ws_active_sessions",
			Help: "Number of joined websocket sessions on this node.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ciphertalk_ws_events_total",
			Help: "Total number of websocket events by direction and type.",
		},
		[]string{"direction", "event"},
	)
	wsAdmissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ciphertalk_ws_admission_rejected_total",
			Help: "Websocket connections refused during admission, by close code.",
		},
		[]string{"code"},
	)
	wsDroppedSubscribersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_ws_dropped_subscribers_total",
			Help: "Subscribers removed from a room because delivery failed or their buffer was full.",
		},
	)
	messagesPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_messages_persisted_total",
			Help: "Messages encrypted and stored.",
		},
	)
	cryptoErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ciphertalk_crypto_errors_total",
			Help: "Encryption engine failures by operation.",
		},
		[]string{"op"},
	)
	sweeperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ciphertalk_sweeper_runs_total",
			Help: "Expiry sweeper runs by outcome.",
		},
		[]string{"outcome"},
	)
	sweeperExpiredMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_sweeper_expired_messages_total",
			Help: "Self-destructing messages soft-deleted by the sweeper.",
		},
	)
	sweeperStalePresenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_sweeper_stale_presence_total",
			Help: "Presence records forced offline by the sweeper.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	relayErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ciphertalk_relay_errors_total",
			Help: "Cross-node relay publish or decode failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveSessions,
		wsEventsTotal,
		wsAdmissionRejectedTotal,
		wsDroppedSubscribersTotal,
		messagesPersistedTotal,
		cryptoErrorsTotal,
		sweeperRunsTotal,
		sweeperExpiredMessagesTotal,
		sweeperStalePresenceTotal,
		amqpPublishErrorsTotal,
		relayErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveSessions.Inc()
}

func DecWSActive() {
	wsActiveSessions.Dec()
}

// IncWSEvent counts a websocket event; direction is "in" or "out".
func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncWSRejected(code int) {
	wsAdmissionRejectedTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func IncWSDropped() {
	wsDroppedSubscribersTotal.Inc()
}

func IncMessagesPersisted() {
	messagesPersistedTotal.Inc()
}

func IncCryptoError(op string) {
	cryptoErrorsTotal.WithLabelValues(op).Inc()
}

func ObserveSweep(expired, stale int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sweeperRunsTotal.WithLabelValues(outcome).Inc()
	sweeperExpiredMessagesTotal.Add(float64(expired))
	sweeperStalePresenceTotal.Add(float64(stale))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncRelayError() {
	relayErrorsTotal.Inc()
}
