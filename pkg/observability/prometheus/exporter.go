package prometheus

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Exporter serves the default registry on /metrics plus a /healthz probe.
type Exporter struct {
	srv *fasthttp.Server

	mu sync.Mutex
	ln net.Listener
}

// NewExporter builds the metrics HTTP server.
func NewExporter() *Exporter {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{}))

	handler := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			metricsHandler(ctx)
		case "/healthz":
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("ok\n")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	return &Exporter{
		srv: &fasthttp.Server{
			Handler:          handler,
			Name:             "accumd-metrics",
			DisableKeepalive: false,
		},
	}
}

// Serve listens on addr and blocks until Close.
func (e *Exporter) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ln = ln
	e.mu.Unlock()
	return e.srv.Serve(ln)
}

// ListeningAddr returns the bound address, or "" before Serve.
func (e *Exporter) ListeningAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// Close shuts the metrics server down.
func (e *Exporter) Close() error {
	return e.srv.Shutdown()
}
