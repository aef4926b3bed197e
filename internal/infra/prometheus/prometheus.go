package prometheus

import (
	"cmp"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/LHLHLHE/short-links/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	defaultPort       = 9090
	MetricsPath       = "/metrics"
)

// NewServer exposes reg on MetricsPath. Scrapes are themselves counted in reg
// and collection errors are reported through it instead of failing the scrape.
func NewServer(cfg config.PrometheusConfig, reg *prometheus.Registry) *http.Server {
	handler := promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, handler)

	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cmp.Or(cfg.Port, defaultPort))),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
}
