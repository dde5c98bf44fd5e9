package httpserver

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "texledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "texledger_ledger_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"operation", "status"})
)

func metricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
