// Command oidcop-demo runs a small OpenID Connect provider with a static
// client registry and a form-based login. It exists to demonstrate the
// hosting contract, not to be deployed.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"flag"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/elmwood/oidcop/cache"
	"github.com/elmwood/oidcop/cache/boltcache"
	"github.com/elmwood/oidcop/cache/memcache"
	"github.com/elmwood/oidcop/cache/pgcache"
	"github.com/elmwood/oidcop/core"
	"github.com/elmwood/oidcop/token"
)

func main() {
	var (
		listen   = flag.String("listen", "127.0.0.1:8085", "address to listen on")
		issuer   = flag.String("issuer", "http://127.0.0.1:8085", "issuer URL")
		boltPath = flag.String("bolt", "", "path to a bolt database file for protocol state; in-memory when empty")
		pgURL    = flag.String("postgres", "", "postgres connection string for protocol state; overrides -bolt")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	c, err := openCache(*boltPath, *pgURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open protocol state cache")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		logger.WithError(err).Fatal("failed to generate signing key")
	}
	cred, err := token.NewSigningCredential(key, nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to build signing credential")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	clients := newClientRegistry()

	opts := core.DefaultOptions(*issuer)
	opts.AllowInsecureHTTP = true
	opts.Cache = c
	opts.SigningCredentials = []*token.SigningCredential{cred}
	opts.Provider = clients.provider()
	opts.Logger = logger
	opts.PrometheusRegistry = registry

	srv, err := core.New(opts)
	if err != nil {
		logger.WithError(err).Fatal("failed to create server")
	}

	demo := newDemoServer(srv, logger, registry)

	logger.WithField("addr", *listen).Info("listening")
	if err := http.ListenAndServe(*listen, srv.Handler(demo.router())); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func openCache(boltPath, pgURL string) (cache.Cache, error) {
	switch {
	case pgURL != "":
		db, err := sql.Open("postgres", pgURL)
		if err != nil {
			return nil, err
		}
		return pgcache.New(context.Background(), db)
	case boltPath != "":
		return boltcache.New(boltPath, os.FileMode(0o600))
	default:
		return memcache.New(), nil
	}
}
