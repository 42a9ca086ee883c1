// Package metrics exposes render counters to Prometheus.
//
// Counters:
//
//	cedartoy_frames_total          frames written
//	cedartoy_tiles_total           terminal-pass tiles rendered
//	cedartoy_samples_total         temporal samples rendered, per eye
//	cedartoy_pass_draws_total      draw calls, by pass
//	cedartoy_spilled_bytes_total   bytes written to tile spill files
//
// Histogram cedartoy_frame_duration_seconds records wall time per frame and
// gauge cedartoy_streaming is 1 while a view is rendered in streaming mode.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the render collectors.
type Collector struct {
	frames        prometheus.Counter
	tiles         prometheus.Counter
	samples       prometheus.Counter
	passDraws     *prometheus.CounterVec
	spilledBytes  prometheus.Counter
	frameDuration prometheus.Histogram
	streaming     prometheus.Gauge
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cedartoy_frames_total",
			Help: "Frames rendered and written.",
		}),
		tiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cedartoy_tiles_total",
			Help: "Terminal-pass tiles rendered.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cedartoy_samples_total",
			Help: "Temporal samples rendered.",
		}),
		passDraws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cedartoy_pass_draws_total",
			Help: "Draw calls issued, by pass.",
		}, []string{"pass"}),
		spilledBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cedartoy_spilled_bytes_total",
			Help: "Bytes written to temporary tile files.",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cedartoy_frame_duration_seconds",
			Help:    "Wall time to render and write one frame.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		streaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cedartoy_streaming",
			Help: "1 while a view renders in tile streaming mode.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.frames, c.tiles, c.samples, c.passDraws, c.spilledBytes, c.frameDuration, c.streaming,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FrameDone records a written frame.
func (c *Collector) FrameDone(d time.Duration) {
	if c == nil {
		return
	}
	c.frames.Inc()
	c.frameDuration.Observe(d.Seconds())
}

// TileDone records a rendered tile.
func (c *Collector) TileDone() {
	if c == nil {
		return
	}
	c.tiles.Inc()
}

// SampleDone records a rendered temporal sample.
func (c *Collector) SampleDone() {
	if c == nil {
		return
	}
	c.samples.Inc()
}

// PassDrawn records a draw call of pass.
func (c *Collector) PassDrawn(pass string) {
	if c == nil {
		return
	}
	c.passDraws.WithLabelValues(pass).Inc()
}

// Spilled records bytes written to a spill file.
func (c *Collector) Spilled(n int64) {
	if c == nil {
		return
	}
	c.spilledBytes.Add(float64(n))
}

// SetStreaming sets the streaming gauge.
func (c *Collector) SetStreaming(on bool) {
	if c == nil {
		return
	}
	if on {
		c.streaming.Set(1)
	} else {
		c.streaming.Set(0)
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
