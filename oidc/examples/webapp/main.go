// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// webapp is a small web application that signs users in with an OpenID
// Connect provider and serves an API authenticated with the id_token.
//
// It's configured from the environment; see oidc.Settings for the provider
// variables.  WEBAPP_ADDR sets the listen address and REDIS_URL, when set,
// shares the provider metadata cache through redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/cap-openid/oidc"
	"github.com/hashicorp/cap-openid/oidc/callback"
	"github.com/hashicorp/cap-openid/oidc/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/joeshaw/envdecode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type appSettings struct {
	Addr       string   `env:"WEBAPP_ADDR,default=localhost:3000"`
	RedisURL   string   `env:"REDIS_URL"`
	AdminRoles []string `env:"WEBAPP_ADMIN_ROLES,default=ROLE_ADMIN"`
	AdminUsers []string `env:"WEBAPP_ADMINS"` // semicolon separated
	GroupClaim string   `env:"WEBAPP_GROUP_CLAIM,default=groups"`
	LogLevel   string   `env:"WEBAPP_LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	var app appSettings
	if err := envdecode.Decode(&app); err != nil {
		return fmt.Errorf("reading webapp settings: %w", err)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webapp",
		Level: hclog.LevelFromString(app.LogLevel),
	})

	settings, err := oidc.LoadSettings()
	if err != nil {
		return err
	}
	c, err := settings.Config()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := oidc.NewMetrics(reg)
	if err != nil {
		return err
	}

	var cache oidc.Cache
	if app.RedisURL != "" {
		opts, err := redis.ParseURL(app.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if cache, err = oidc.NewRedisCache(client, "webapp:"); err != nil {
			return err
		}
	}

	d, err := oidc.NewDiscoveryFromConfig(c, cache, oidc.WithLogger(logger), oidc.WithMetrics(metrics))
	if err != nil {
		return err
	}
	factory, err := oidc.NewTrustConfigurationFactory(c, d, oidc.WithLogger(logger))
	if err != nil {
		return err
	}
	roles := oidc.NewRoleChain(roleStrategies(c, app), oidc.WithLogger(logger))

	builder, err := oidc.NewAuthorizationLinkBuilder(c, d, oidc.WithLogger(logger))
	if err != nil {
		return err
	}
	authenticator, err := oidc.NewRedirectFlowAuthenticator(c, factory, roles,
		oidc.WithCSRFTokenManager(builder.CSRFTokenManager()),
		oidc.WithLogger(logger),
		oidc.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	bearer, err := oidc.NewBearerTokenAuthenticationProvider(c, factory, roles, oidc.WithLogger(logger), oidc.WithMetrics(metrics))
	if err != nil {
		return err
	}

	sessions := callback.NewMemorySessionStore(callback.DefaultSessionTTL, callback.WithSecureCookie(c.ForceSSL))
	router, err := newRouter(c, builder, authenticator, bearer, sessions, reg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              app.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", app.Addr, "discovery", c.DiscoveryURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
		close(srvCh)
	}()

	select {
	case err := <-srvCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// roleStrategies grants the admin roles to the configured admin users and
// derives roles from the group claim.
func roleStrategies(c *oidc.Config, app appSettings) []oidc.RoleStrategy {
	strategies := []oidc.RoleStrategy{
		oidc.ClaimRoleStrategy{Claim: app.GroupClaim, Prefix: "ROLE_"},
	}
	if len(app.AdminUsers) > 0 {
		strategies = append(strategies, adminStrategy{zone: c.ProviderKey, users: app.AdminUsers, roles: app.AdminRoles})
	}
	return strategies
}

type adminStrategy struct {
	zone  string
	users []string
	roles []string
}

func (s adminStrategy) Supports(_ context.Context, rc oidc.RoleContext) bool {
	if rc.Zone != s.zone {
		return false
	}
	for _, u := range s.users {
		if u == rc.Username {
			return true
		}
	}
	return false
}

func (s adminStrategy) Roles(_ context.Context, _ oidc.RoleContext) []string {
	return s.roles
}

func newRouter(
	c *oidc.Config,
	builder *oidc.AuthorizationLinkBuilder,
	authenticator *oidc.RedirectFlowAuthenticator,
	bearer *oidc.BearerTokenAuthenticationProvider,
	sessions callback.SessionStore,
	gatherer prometheus.Gatherer,
	logger hclog.Logger,
) (chi.Router, error) {
	login, err := callback.Login(builder, sessions)
	if err != nil {
		return nil, err
	}
	cb, err := callback.RedirectFlow(authenticator, sessions, nil, nil)
	if err != nil {
		return nil, err
	}
	session, err := middleware.Session(bearer, sessions, middleware.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	api, err := middleware.Bearer(bearer, middleware.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/login", login)
	r.Get(c.CallbackPath, cb)
	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Get(c.DefaultRoute, homeHandler(sessions))
		r.Post("/logout", logoutHandler(sessions))
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(api)
		r.Get("/me", meHandler())
	})
	return r, nil
}
