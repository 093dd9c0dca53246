package metrics

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	MonitoredBuses prometheus.Gauge
	SimulatedBuses prometheus.Gauge
	WSClients      prometheus.Gauge

	LocationsIngested *prometheus.CounterVec // source label: driver|simulator
	LocationsStale    prometheus.Counter
	StopTransitions   *prometheus.CounterVec // to label: approaching|arrived|departed
	Notifications     *prometheus.CounterVec // kind, outcome=sent|suppressed
	SOSRaised         prometheus.Counter
	WSDropped         prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	PublishDuration prometheus.Histogram
	HTTPDuration    *prometheus.HistogramVec // route, code

	SpeedMultiplier prometheus.Gauge
	PollInterval    prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, pollInterval, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		MonitoredBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_monitored_buses",
			Help: "Number of buses with a running proximity monitor.",
		}),
		SimulatedBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_simulated_buses",
			Help: "Number of buses driven by the simulator.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		LocationsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_locations_ingested_total",
			Help: "GPS samples accepted as the latest bus location.",
		}, []string{"source"}),
		LocationsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_locations_stale_total",
			Help: "GPS samples older than the stored location.",
		}),
		StopTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stop_transitions_total",
			Help: "Stop status changes by target status.",
		}, []string{"to"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_notifications_total",
			Help: "Push notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SOSRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sos_raised_total",
			Help: "SOS alerts raised.",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_websocket_dropped_total",
			Help: "Websocket clients dropped for falling behind.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request latency by route template and status code.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"route", "code"}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sim_speed_multiplier",
			Help: "Current simulator speed multiplier.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Location polling interval in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_refresh_interval_seconds",
			Help: "Monitor refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.MonitoredBuses, c.SimulatedBuses, c.WSClients,
		c.LocationsIngested, c.LocationsStale, c.StopTransitions,
		c.Notifications, c.SOSRaised, c.WSDropped,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PublishDuration, c.HTTPDuration,
		c.SpeedMultiplier, c.PollInterval, c.RefreshInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.PollInterval.Set(pollInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

// publisher hooks

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// notify hooks

func (c *Collector) NotificationSentInc(kind string) {
	c.Notifications.WithLabelValues(kind, "sent").Inc()
}

func (c *Collector) NotificationSuppressedInc(kind string) {
	c.Notifications.WithLabelValues(kind, "suppressed").Inc()
}

// tracker hooks

func (c *Collector) LocationIngested(source string, applied bool) {
	if !applied {
		c.LocationsStale.Inc()
		return
	}
	c.LocationsIngested.WithLabelValues(source).Inc()
}

func (c *Collector) StopTransition(to string) { c.StopTransitions.WithLabelValues(to).Inc() }
func (c *Collector) SOSRaisedInc()            { c.SOSRaised.Inc() }
func (c *Collector) MonitoredSet(n int)       { c.MonitoredBuses.Set(float64(n)) }
func (c *Collector) SimulatedSet(n int)       { c.SimulatedBuses.Set(float64(n)) }
func (c *Collector) ClientsSet(n int)         { c.WSClients.Set(float64(n)) }
func (c *Collector) ClientDroppedInc()        { c.WSDropped.Inc() }

func (c *Collector) HTTPObserve(route string, code int, d time.Duration) {
	c.HTTPDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
