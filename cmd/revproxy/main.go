package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	cfg "github.com/fabian4/revproxy-homebrew-go/internal/config"
	"github.com/fabian4/revproxy-homebrew-go/internal/gateway"
	"github.com/fabian4/revproxy-homebrew-go/internal/metrics"
	"github.com/fabian4/revproxy-homebrew-go/internal/ratelimit"
	"github.com/fabian4/revproxy-homebrew-go/internal/reverse"
	"github.com/fabian4/revproxy-homebrew-go/internal/sock"
	"github.com/fabian4/revproxy-homebrew-go/internal/version"
)

var (
	configFile  = kingpin.Flag("config.file", "Path to configuration file.").Default("./cmd/config.yaml").String()
	metricsAddr = kingpin.Flag("web.listen-address", "Address to expose telemetry on (overrides config).").String()
	metricsPath = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics (overrides config).").String()
	logJSON     = kingpin.Flag("log.json", "Emit logs as JSON.").Bool()
)

func main() {
	kingpin.Version(version.Value)
	kingpin.Parse()

	var h slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if *logJSON {
		h = slog.NewJSONHandler(os.Stderr, nil)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	c, err := cfg.Load(*configFile)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		c.Metrics.Address = *metricsAddr
	}
	if *metricsPath != "" {
		c.Metrics.Path = *metricsPath
	}

	// Register every rule before the listener starts serving; the table is
	// read-only once workers dispatch requests.
	table := reverse.NewTable(logger)
	for _, r := range c.Rules {
		table.AddRule(r.Path, r.URL)
	}

	rewriter := reverse.NewRewriter(table, reverse.Options{
		ReverseOnly: c.ReverseOnly,
		MagicCookie: c.ReverseMagic,
		CookieName:  c.ReverseCookie,
		Logger:      logger,
	})

	sl := sock.New(nil, c.BindAddress, c.ListenAddress, logger)
	reg := metrics.New()

	gw := gateway.New(gateway.Options{
		Rewriter:        rewriter,
		Sock:            sl,
		Metrics:         reg,
		Limiter:         ratelimit.NewLimiter(),
		RateLimit:       c.RateLimit,
		MagicCookie:     c.ReverseMagic,
		CookieName:      c.ReverseCookie,
		UpstreamTimeout: c.Timeouts.Upstream,
		Logger:          logger,
	})

	// Bind/listen failures are fatal to startup.
	ln, err := sl.Listen(c.ListenPort)
	if err != nil {
		logger.Error("listener setup", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           gw,
		ReadTimeout:       c.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
		ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
			ip, host, perr := sl.PeerInfo(ctx, conn)
			if perr != nil {
				logger.Error("peer info", "error", perr)
				return ctx
			}
			local, _ := sock.LocalAddress(conn)
			logger.Info("connect", "ip", ip, "host", host, "local", local)
			return ctx
		},
	}

	logger.Info("revproxy-homebrew-go listening",
		"version", version.Value,
		"addr", ln.Addr().String(),
		"rules", table.Len(),
		"reverse_only", c.ReverseOnly,
		"magic_cookie", c.ReverseMagic)

	go func() {
		if serr := srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			logger.Error("serve", "error", serr)
			os.Exit(1)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle(c.Metrics.Path, reg.Handler())
		logger.Info("telemetry listening", "addr", c.Metrics.Address, "path", c.Metrics.Path)
		if merr := http.ListenAndServe(c.Metrics.Address, mux); merr != nil && merr != http.ErrServerClosed {
			logger.Error("metrics server", "error", merr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
