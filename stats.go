package axdma

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/config"
)

// startStats validates the stats section and returns the function that runs
// the exporter, nil when there is nothing to run. In config test mode only
// validation happens.
func startStats(l *logrus.Logger, c *config.C, buildVersion string, configTest bool) (func(), error) {
	kind := c.GetString("stats.type", "")
	if kind == "" || kind == "none" {
		return nil, nil
	}

	interval := c.GetDuration("stats.interval", 0)
	if interval <= 0 {
		return nil, fmt.Errorf("stats.interval was an invalid duration: %s", c.GetString("stats.interval", ""))
	}

	var (
		run func()
		err error
	)
	switch kind {
	case "graphite":
		run, err = graphiteExporter(l, c, interval)
	case "prometheus":
		run, err = prometheusExporter(l, c, interval, buildVersion)
	default:
		err = fmt.Errorf("stats.type was not understood: %s", kind)
	}
	if err != nil || configTest {
		return nil, err
	}

	metrics.RegisterDebugGCStats(metrics.DefaultRegistry)
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
	go metrics.CaptureDebugGCStats(metrics.DefaultRegistry, interval)
	go metrics.CaptureRuntimeMemStats(metrics.DefaultRegistry, interval)

	return run, nil
}

func graphiteExporter(l *logrus.Logger, c *config.C, interval time.Duration) (func(), error) {
	host := c.GetString("stats.host", "")
	if host == "" {
		return nil, errors.New("stats.host can not be empty")
	}

	addr, err := net.ResolveTCPAddr(c.GetString("stats.protocol", "tcp"), host)
	if err != nil {
		return nil, fmt.Errorf("error while setting up graphite sink: %s", err)
	}
	prefix := c.GetString("stats.prefix", "axdma")

	return func() {
		l.WithFields(logrus.Fields{"interval": interval, "prefix": prefix, "addr": addr}).Info("Starting graphite")
		graphite.Graphite(metrics.DefaultRegistry, interval, prefix, addr)
	}, nil
}

func prometheusExporter(l *logrus.Logger, c *config.C, interval time.Duration, buildVersion string) (func(), error) {
	listen := c.GetString("stats.listen", "")
	if listen == "" {
		return nil, errors.New("stats.listen should not be empty")
	}
	path := c.GetString("stats.path", "")
	if path == "" {
		return nil, errors.New("stats.path should not be empty")
	}
	namespace := c.GetString("stats.namespace", "")
	subsystem := c.GetString("stats.subsystem", "")

	pr := prometheus.NewRegistry()
	bridge := mp.NewPrometheusProvider(metrics.DefaultRegistry, namespace, subsystem, pr, interval)

	// static gauge carrying the build and pool geometry as labels
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "info",
		Help:      "Version and descriptor pool information for the axdma engine",
		ConstLabels: prometheus.Labels{
			"version":     buildVersion,
			"goversion":   runtime.Version(),
			"descriptors": strconv.Itoa(c.GetInt("dma.pool.descriptors", 4096)),
		},
	})
	if err := pr.Register(info); err != nil {
		return nil, err
	}
	info.Set(1)

	return func() {
		go bridge.UpdatePrometheusMetrics()

		mux := http.NewServeMux()
		mux.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))
		l.WithFields(logrus.Fields{"listen": listen, "path": path}).Info("Prometheus stats listening")
		if err := http.ListenAndServe(listen, mux); err != nil {
			l.WithError(err).Error("Prometheus stats listener stopped")
		}
	}, nil
}
