// Command wrend is a receive-only SMTP server that writes every accepted
// message to a bbolt database.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjl-/sconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/sasl"
	"github.com/synqronlabs/wren/server"
	"github.com/synqronlabs/wren/store"
)

func main() {
	configPath := flag.String("config", "wrend.conf", "path to the configuration file")
	describe := flag.Bool("describe", false, "print an annotated example configuration and exit")
	flag.Parse()

	if *describe {
		if err := sconf.Describe(os.Stdout, &Config{TLS: &TLS{}, Auth: &Auth{Users: map[string]string{"user": "password"}}}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	c, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := c.logger()
	if err := run(c, logger); err != nil {
		logger.Error("wrend failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(c *Config, logger *slog.Logger) error {
	engine, err := c.engine(logger)
	if err != nil {
		return err
	}
	tc, err := c.tlsConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(c.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(reg)

	factory := func(peer wren.PeerInfo) wren.Handler {
		h := store.NewHandler(st, peer, logger)
		if c.Auth == nil {
			return h
		}
		return &authHandler{Handler: h, users: c.Auth.Users}
	}

	listen := c.Listen
	if listen == "" {
		listen = ":25"
	}
	var servers []*server.Server
	srv, err := server.New(engine, factory, c.serverConfig(listen, tc, logger, metrics))
	if err != nil {
		return err
	}
	servers = append(servers, srv)
	if c.ListenTLS != "" {
		srv, err := server.New(engine, factory, c.serverConfig(c.ListenTLS, tc, logger, metrics))
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}

	errc := make(chan error, len(servers)+1)
	for i, srv := range servers {
		go func() {
			if i == 0 {
				errc <- srv.ListenAndServe()
			} else {
				errc <- srv.ListenAndServeTLS()
			}
		}()
	}

	var httpSrv *http.Server
	if c.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpSrv = &http.Server{Addr: c.MetricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics: %w", err)
			}
		}()
		logger.Info("metrics listening", slog.String("addr", c.MetricsListen))
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigc:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errc:
		if !errors.Is(err, server.ErrServerClosed) {
			runErr = err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", slog.Any("error", err))
		}
	}
	if httpSrv != nil {
		_ = httpSrv.Shutdown(ctx)
	}
	return runErr
}

// authHandler checks AUTH credentials against the configured users.
type authHandler struct {
	*store.Handler
	users map[string]string
}

func (h *authHandler) OnAuth(_ context.Context, _ string, creds sasl.Credentials) wren.Disposition {
	want, ok := h.users[creds.AuthenticationID]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(creds.Password)) != 1 {
		return wren.Reject(wren.CodeAuthCredentialsInvalid, wren.ESCAuthCredsInvalid, "Authentication credentials invalid")
	}
	if creds.AuthorizationID != "" && creds.AuthorizationID != creds.AuthenticationID {
		return wren.Reject(wren.CodeAuthCredentialsInvalid, wren.ESCAuthCredsInvalid, "Not authorized to act as "+creds.AuthorizationID)
	}
	return wren.Accept()
}
