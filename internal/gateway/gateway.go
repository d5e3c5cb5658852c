package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fabian4/revproxy-homebrew-go/internal/config"
	"github.com/fabian4/revproxy-homebrew-go/internal/metrics"
	"github.com/fabian4/revproxy-homebrew-go/internal/ratelimit"
	"github.com/fabian4/revproxy-homebrew-go/internal/reverse"
	"github.com/fabian4/revproxy-homebrew-go/internal/sock"
)

// Options wires a Gateway.
type Options struct {
	Rewriter *reverse.Rewriter
	Sock     *sock.Layer
	Metrics  *metrics.Registry
	Limiter  *ratelimit.Limiter

	RateLimit       config.RateLimit
	MagicCookie     bool
	CookieName      string
	UpstreamTimeout time.Duration

	Logger *slog.Logger

	// Transport overrides the socket-layer-backed default; tests use this.
	Transport http.RoundTripper
}

// Gateway is the per-request worker: it rate-limits the client, asks the
// rewrite engine for an outbound URL, dials the backend through the socket
// layer and copies the response back. One goroutine per request (net/http);
// all referenced state is read-only after construction.
type Gateway struct {
	rewriter  *reverse.Rewriter
	transport http.RoundTripper
	metrics   *metrics.Registry
	limiter   *ratelimit.Limiter

	rate            config.RateLimit
	magic           bool
	cookieName      string
	upstreamTimeout time.Duration

	logger *slog.Logger
}

var _ http.Handler = (*Gateway)(nil)

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tr := opts.Transport
	if tr == nil {
		tr = newTransport(opts.Sock)
	}
	name := opts.CookieName
	if name == "" {
		name = reverse.DefaultCookieName
	}
	return &Gateway{
		rewriter:        opts.Rewriter,
		transport:       tr,
		metrics:         opts.Metrics,
		limiter:         opts.Limiter,
		rate:            opts.RateLimit,
		magic:           opts.MagicCookie,
		cookieName:      name,
		upstreamTimeout: opts.UpstreamTimeout,
		logger:          logger,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := metrics.OutcomePassthrough
	lw := &loggingResponseWriter{ResponseWriter: w}

	if g.metrics != nil {
		g.metrics.IncActive()
		defer g.metrics.DecActive()
	}
	defer func() {
		status := lw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		g.logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("target", r.RequestURI),
			slog.String("remote", r.RemoteAddr),
			slog.String("outcome", outcome),
			slog.Int("status", status),
			slog.Int64("bytes", lw.bytes),
			slog.Duration("duration", duration),
		)
		if g.metrics != nil {
			g.metrics.IncRequest(r.Method, outcome, status)
			g.metrics.ObserveDuration(outcome, duration)
		}
	}()

	if g.limiter != nil && g.rate.RequestsPerSecond > 0 {
		if !g.limiter.Allow(clientIP(r.RemoteAddr), g.rate.RequestsPerSecond, g.rate.Burst) {
			outcome = "throttled"
			http.Error(lw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
	}

	target := r.RequestURI
	if target == "" {
		// Direct handler invocation (tests) leaves RequestURI unset.
		target = r.URL.RequestURI()
	}

	conn := &reverse.Conn{Responder: &jsonResponder{w: lw}}
	out, err := g.rewriter.Rewrite(conn, r.Header, target)
	if err != nil {
		// The engine already responded with the 400.
		outcome = metrics.OutcomeRejected
		if g.metrics != nil {
			g.metrics.IncRewrite(outcome)
		}
		return
	}

	if out == target && strings.HasPrefix(out, "/") {
		// Origin-form target passed through with no rule: forward proxying
		// needs an absolute URI, so there is no backend to dial here.
		http.Error(lw, "no backend for request path", http.StatusBadRequest)
		return
	}
	if out != target {
		outcome = metrics.OutcomeDirect
		if conn.ViaCookie {
			outcome = metrics.OutcomeCookie
		}
	}
	if g.metrics != nil {
		g.metrics.IncRewrite(outcome)
	}

	u, err := url.Parse(out)
	if err != nil || u.Scheme == "" || u.Host == "" {
		g.logger.Error("unusable upstream url", "url", out, "error", err)
		http.Error(lw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	ctx := r.Context()
	if g.upstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.upstreamTimeout)
		defer cancel()
	}

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		http.Error(lw, "bad request", http.StatusBadRequest)
		return
	}
	hdr := cloneHeader(r.Header)
	dropHopByHop(hdr)
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)
	reqUp.Header = hdr
	reqUp.Host = u.Host

	resUp, err := g.transport.RoundTrip(reqUp)
	if err != nil {
		g.logger.Error("upstream error", "url", u.String(), "error", err)
		var cerr *sock.ConnectError
		var rerr *sock.ResolutionError
		if g.metrics != nil && (errors.As(err, &cerr) || errors.As(err, &rerr)) {
			g.metrics.IncDialError()
		}
		http.Error(lw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer func() {
		if cerr := resUp.Body.Close(); cerr != nil {
			g.logger.Warn("closing upstream body", "error", cerr)
		}
	}()

	dropHopByHop(resUp.Header)
	copyHeaders(lw.Header(), resUp.Header)

	// Set or refresh the affinity cookie so the client keeps landing on the
	// same reverse path.
	if g.magic && conn.ReversePath != "" {
		http.SetCookie(lw, &http.Cookie{Name: g.cookieName, Value: conn.ReversePath, Path: "/"})
	}

	lw.WriteHeader(resUp.StatusCode)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	_, _ = io.Copy(lw, resUp.Body)
}

func clientIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

// jsonResponder adapts an http.ResponseWriter to the rewrite engine's
// ErrorResponder collaborator.
type jsonResponder struct {
	w http.ResponseWriter
}

func (jr *jsonResponder) RespondError(status int, title string, details map[string]string) {
	body := make(map[string]string, len(details)+1)
	body["error"] = title
	for k, v := range details {
		body[k] = v
	}
	jr.w.Header().Set("Content-Type", "application/json")
	jr.w.WriteHeader(status)
	_ = json.NewEncoder(jr.w).Encode(body)
}
