// Package metrics exposes the process traffic counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/ctlmux/internal/util"
)

const namespace = "ctlmux"

// counter describes one CounterFunc backed by a util.Stats field.
type counter struct {
	subsystem, name, help string
	v                     *atomic.Int64
}

func counters() []counter {
	s := util.Stats
	return []counter{
		{"datagram", "frames_received_total", "Datagrams read from the datagram transport.", &s.FramesRecv},
		{"datagram", "frames_accepted_total", "Datagrams parsed and queued.", &s.FramesAccepted},
		{"datagram", "frames_stale_total", "Datagrams dropped as duplicate or stale.", &s.FramesStale},
		{"datagram", "frames_malformed_total", "Datagrams discarded as undecodable.", &s.FramesMalformed},
		{"datagram", "received_bytes_total", "Bytes read from the datagram transport.", &s.BytesRecv},
		{"stream", "messages_received_total", "Control messages decoded from the reliable stream.", &s.StreamRecv},
		{"stream", "device_messages_sent_total", "Device messages written to the reliable stream.", &s.DeviceSent},
		{"", "sent_bytes_total", "Bytes written to either transport.", &s.BytesSent},
	}
}

// NewRegistry returns a registry holding the traffic counters plus the
// standard Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range counters() {
		v := c.v
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: c.subsystem,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) }))
	}
	return reg
}

// Handler serves reg at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr and serves /metrics in the background until ctx is
// cancelled. It returns the bound address, so ":0" works.
func Serve(ctx context.Context, addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           Handler(NewRegistry()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("metrics server stopped: %v", err)
		}
	}()

	util.LogInfo("serving metrics on http://%s/metrics", listener.Addr())
	return listener.Addr(), nil
}
