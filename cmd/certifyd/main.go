// Copyright 2016 SMFS Inc DBA GRIMM. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/certify"
	"github.com/lamassuiot/certify/pkg/config"
	"github.com/lamassuiot/certify/pkg/db"
	"github.com/lamassuiot/certify/pkg/depot"
	depotfile "github.com/lamassuiot/certify/pkg/depot/file"
	depotmemory "github.com/lamassuiot/certify/pkg/depot/memory"
	depotrelational "github.com/lamassuiot/certify/pkg/depot/relational"
	"github.com/lamassuiot/certify/pkg/discovery"
	"github.com/lamassuiot/certify/pkg/discovery/consul"
	"github.com/lamassuiot/certify/pkg/fingerprint"
	"github.com/lamassuiot/certify/pkg/ledger"
	ledgerfile "github.com/lamassuiot/certify/pkg/ledger/file"
	ledgermemory "github.com/lamassuiot/certify/pkg/ledger/memory"
	ledgerrelational "github.com/lamassuiot/certify/pkg/ledger/relational"
	"github.com/lamassuiot/certify/pkg/policy"
	"github.com/lamassuiot/certify/pkg/secrets"
	secretsfile "github.com/lamassuiot/certify/pkg/secrets/file"
	"github.com/lamassuiot/certify/pkg/secrets/vault"
)

func main() {
	var (
		flConfig  = flag.String("config", envString("CERTIFY_CONFIG", ""), "path to the YAML configuration file")
		flAddress = flag.String("bind", "", "bind address, overrides server.address")
		flPort    = flag.String("port", "", "listening port, overrides server.port")
		flStrict  = flag.Bool("strict", envBool("CERTIFY_STRICT"), "require content type HTTP header")
	)
	flag.Parse()

	cfg, err := config.Load(*flConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *flAddress != "" {
		cfg.Server.Address = *flAddress
	}
	if *flPort != "" {
		cfg.Server.Port = *flPort
	}
	cfg.Server.Strict = cfg.Server.Strict || *flStrict

	var logger log.Logger
	{
		logger = log.NewJSONLogger(os.Stdout)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		logger = level.NewFilter(logger, levelOption(cfg.Logging.Level))
	}

	jcfg, err := jaegercfg.FromEnv()
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not load Jaeger configuration values fron environment")
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "Jaeger configuration values loaded")
	tracer, closer, err := jcfg.NewTracer()
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not start Jaeger tracer")
		os.Exit(1)
	}
	defer closer.Close()
	level.Info(logger).Log("msg", "Jaeger tracer started")

	var issuance secrets.Secrets
	switch cfg.Issuance.KeySource {
	case config.KeySourceVault:
		v := cfg.Issuance.Vault
		issuance, err = vault.NewVaultSecrets(v.Address, v.RoleID, v.SecretID, v.Path, v.Insecure, logger)
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not create vault secret")
			os.Exit(1)
		}
	default:
		issuance = secretsfile.NewFile(cfg.Issuance.KeyFile, logger)
	}
	key, err := issuance.GetIssuanceKey()
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not load issuance key")
		os.Exit(1)
	}
	minter, err := ledger.NewHMACMinter(key)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create verification id minter")
		os.Exit(1)
	}

	engine, err := fingerprint.NewEngine(cfg.Fingerprint.Algorithm, cfg.Fingerprint.Accepted...)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create fingerprint engine")
		os.Exit(1)
	}

	d, l, closeStorage, err := openStorage(cfg, minter, logger)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not open storage backend "+cfg.Storage.Backend)
		os.Exit(1)
	}
	defer closeStorage.Close()
	level.Info(logger).Log("msg", "Storage backend "+cfg.Storage.Backend+" ready")

	fieldKeys := []string{"method", "error"}

	var s certify.Service
	{
		authorizer := policy.NewAuthorizer(cfg.Policy.Custodians, cfg.Policy.IssuerMayRevoke)
		s = certify.NewService(canon.Canonicalizer{Bind: cfg.Canonicalization.Bind}, engine, d, l, authorizer, logger)
		s = certify.LoggingMiddleware(logger)(s)
		s = certify.NewInstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "certify",
				Subsystem: "engine",
				Name:      "request_count",
				Help:      "Number of requests received.",
			}, fieldKeys),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "certify",
				Subsystem: "engine",
				Name:      "request_latency_seconds",
				Help:      "Total duration of requests in seconds.",
			}, fieldKeys),
		)(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/", certify.MakeHTTPHandler(s, log.With(logger, "component", "HTTP"), cfg.Server.Strict, cfg.Server.MaxBodyBytes, tracer))
	mux.Handle("/metrics", promhttp.Handler())

	var sd discovery.Service
	if cfg.Consul.Enabled {
		sd, err = consul.NewServiceDiscovery(cfg.Consul.Protocol, cfg.Consul.Host, cfg.Consul.Port, cfg.Consul.CA, logger)
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not start connection with Consul Service Discovery")
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "Connection established with Consul Service Discovery")
	}

	errs := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	addr := cfg.Server.Address + ":" + cfg.Server.Port
	protocol := "http"
	if cfg.Server.SSL {
		protocol = "https"
	}
	go func() {
		level.Info(logger).Log("transport", protocol, "address", addr, "msg", "listening")
		if sd != nil {
			if err := sd.Register(protocol, advertiseHost(cfg), cfg.Server.Port); err != nil {
				level.Error(logger).Log("err", err, "msg", "Could not register with Consul")
			}
		}
		if cfg.Server.SSL {
			errs <- http.ListenAndServeTLS(addr, cfg.Server.CertFile, cfg.Server.KeyFile, mux)
			return
		}
		errs <- http.ListenAndServe(addr, mux)
	}()
	level.Info(logger).Log("exit", <-errs)
	if sd != nil {
		sd.Deregister()
	}
}

// openStorage builds the record store and the ledger for the configured
// backend. The returned closer releases whatever the backend holds open.
func openStorage(cfg *config.Config, minter ledger.Minter, logger log.Logger) (depot.Depot, ledger.Ledger, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		d, err := depotfile.NewFile(filepath.Join(cfg.Storage.Dir, "records"), log.With(logger, "component", "depot"))
		if err != nil {
			return nil, nil, nil, err
		}
		l, err := ledgerfile.NewFile(filepath.Join(cfg.Storage.Dir, "ledger.jsonl"), minter, log.With(logger, "component", "ledger"))
		if err != nil {
			return nil, nil, nil, err
		}
		return d, l, l, nil
	case config.BackendSQL:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout()+time.Second)
		defer cancel()
		conn, err := db.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, db.Options{
			Attempts: int(cfg.ConnectTimeout() / time.Second),
			Backoff:  time.Second,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		d, err := depotrelational.NewDB(ctx, conn, log.With(logger, "component", "depot"))
		if err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		l, err := ledgerrelational.NewDB(ctx, conn, minter, log.With(logger, "component", "ledger"))
		if err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return d, l, closerFunc(conn.Close), nil
	default:
		level.Info(logger).Log("msg", "Using in-memory storage, records and ledger are lost on restart")
		return depotmemory.NewMemory(), ledgermemory.NewMemory(minter), closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func advertiseHost(cfg *config.Config) string {
	if cfg.Consul.AdvertiseHost != "" {
		return cfg.Consul.AdvertiseHost
	}
	if cfg.Server.Address != "" {
		return cfg.Server.Address
	}
	host, _ := os.Hostname()
	return host
}

func levelOption(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func envString(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}

func envBool(key string) bool {
	if env := os.Getenv(key); env == "true" {
		return true
	}
	return false
}
