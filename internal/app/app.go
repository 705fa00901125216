package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/risedotdev/rise/internal/api"
	"github.com/risedotdev/rise/internal/audit"
	"github.com/risedotdev/rise/internal/auth"
	"github.com/risedotdev/rise/internal/config"
	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/deployment"
	"github.com/risedotdev/rise/internal/extension"
	"github.com/risedotdev/rise/internal/httpserver"
	"github.com/risedotdev/rise/internal/k8s"
	"github.com/risedotdev/rise/internal/platform"
	"github.com/risedotdev/rise/internal/registry"
	"github.com/risedotdev/rise/internal/secrets"
	"github.com/risedotdev/rise/internal/telemetry"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting rise", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
	case "controller":
		return runController(ctx, cfg, logger, pool, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildAuth constructs every internal/auth collaborator shared by the API's
// request-authentication chain and its OIDC login flow.
func buildAuth(cfg *config.Config, queries *db.Queries, rdb *redis.Client, logger *slog.Logger) (*auth.SessionManager, *auth.OIDCAuthenticator, *auth.WorkloadIdentityAuthenticator, *auth.Authorizer, *auth.RateLimiter, *auth.IngressIssuer, error) {
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(cfg.SessionSigningKeyPEM, cfg.IngressIssuer, sessionMaxAge)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(context.Background(), cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	workloadAuth := auth.NewWorkloadIdentityAuthenticator(queries)
	az := auth.NewAuthorizer(queries)
	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)

	ingressTTL, err := time.ParseDuration(cfg.IngressTokenTTL)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("parsing ingress token ttl %q: %w", cfg.IngressTokenTTL, err)
	}
	ingressIssuer, err := auth.NewIngressIssuer(cfg.IngressSigningKeyPEM, cfg.IngressIssuer, ingressTTL)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("creating ingress issuer: %w", err)
	}

	return sessionMgr, oidcAuth, workloadAuth, az, rateLimiter, ingressIssuer, nil
}

func buildSecrets(cfg *config.Config, queries *db.Queries) (*secrets.Service, error) {
	provider, err := secrets.New(secrets.Config{
		KMSKeyID:   cfg.KMSKeyID,
		Passphrase: cfg.LocalEncryptionPassphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("building secrets provider: %w", err)
	}
	return secrets.NewService(provider, queries), nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	queries := db.New(pool)

	sessionMgr, oidcAuth, workloadAuth, az, rateLimiter, ingressIssuer, err := buildAuth(cfg, queries, rdb, logger)
	if err != nil {
		return err
	}
	secretsSvc, err := buildSecrets(cfg, queries)
	if err != nil {
		return err
	}

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, auth.Middleware(sessionMgr, workloadAuth, logger))

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	apiHandler := api.NewHandler(pool, queries, az, secretsSvc, auditWriter, ingressIssuer, logger)
	apiHandler.Mount(srv.APIRouter)

	// Well-known discovery for the ingress application JWT plane (§4.4 point
	// 2): deployed applications verify the token Rise issues them via this
	// JWKS rather than calling back into the platform on every request.
	srv.Router.Get("/.well-known/jwks.json", auth.JWKSHandler(ingressIssuer.PublicKey(), "ingress-rsa-1"))
	srv.Router.Get("/.well-known/openid-configuration", auth.OIDCDiscoveryHandler(cfg.IngressIssuer))

	// Mounted outside the /api/v1 auth chain: this is the nginx auth-url
	// subrequest target (k8s.DefaultAccessPolicies), and it authenticates
	// the presented ingress token itself rather than a platform session or
	// workload-identity token.
	srv.Router.Get("/api/v1/ingress/verify", apiHandler.HandleIngressVerify)

	if oidcAuth != nil && cfg.OIDCClientSecret != "" {
		oauth2Cfg := &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     oidcAuth.Endpoint(),
		}
		oidcFlow := auth.NewOIDCFlowHandler(oauth2Cfg, oidcAuth, sessionMgr, queries, rdb, rateLimiter, logger)
		srv.Router.Get("/api/v1/auth/signin/start", oidcFlow.HandleLogin)
		srv.Router.Get("/api/v1/auth/callback", oidcFlow.HandleCallback)
		srv.Router.Get("/api/v1/auth/logout", oidcFlow.HandleLogout)
		logger.Info("OIDC login flow mounted", "redirect_url", cfg.OIDCRedirectURL)
	}

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runController runs the background reconciliation loops: the deployment
// engine, its expiration sweeper, the Kubernetes reconciler's pull-secret
// refresher, and the extension framework with its project finalizer.
// Separated from the API process so either can be scaled independently.
func runController(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, metricsReg *prometheus.Registry) error {
	queries := db.New(pool)

	secretsSvc, err := buildSecrets(cfg, queries)
	if err != nil {
		return err
	}

	provider, err := buildRegistryProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building registry provider: %w", err)
	}
	broker := registry.NewBroker(provider)
	digestResolver := registry.NewDigestResolver(broker)

	clientset, err := k8s.NewClientset(k8s.ClientConfig{
		KubeconfigPath: cfg.KubeconfigPath,
		InCluster:      cfg.KubeInCluster,
	})
	if err != nil {
		return fmt.Errorf("building kubernetes clientset: %w", err)
	}

	pullSecretRefresh, err := time.ParseDuration(cfg.PullSecretRefresh)
	if err != nil {
		return fmt.Errorf("parsing pull secret refresh interval %q: %w", cfg.PullSecretRefresh, err)
	}
	healthCheckTimeout, err := time.ParseDuration(cfg.HealthCheckTimeout)
	if err != nil {
		return fmt.Errorf("parsing health check timeout %q: %w", cfg.HealthCheckTimeout, err)
	}

	urlTemplates := k8s.URLTemplates{
		Production: cfg.ProductionIngressURLTemplate,
		Staging:    cfg.StagingIngressURLTemplate,
	}
	if err := urlTemplates.Validate(); err != nil {
		return fmt.Errorf("validating ingress URL templates: %w", err)
	}

	authURL := cfg.IngressIssuer + "/api/v1/ingress/verify"
	reconciler := k8s.NewReconciler(clientset, broker, secretsSvc, k8s.Config{
		NamespacePrefix:    cfg.NamespacePrefix,
		AccessPolicies:     k8s.DefaultAccessPolicies(cfg.IngressClassName, authURL),
		PullSecretRefresh:  pullSecretRefresh,
		HealthCheckTimeout: healthCheckTimeout,
		URLTemplates:       urlTemplates,
	})

	pollInterval, err := time.ParseDuration(cfg.DeploymentPollInterval)
	if err != nil {
		return fmt.Errorf("parsing deployment poll interval %q: %w", cfg.DeploymentPollInterval, err)
	}
	deployTimeout, err := time.ParseDuration(cfg.DeployTimeout)
	if err != nil {
		return fmt.Errorf("parsing deploy timeout %q: %w", cfg.DeployTimeout, err)
	}
	backoffBase, err := time.ParseDuration(cfg.ReconcileBackoffBase)
	if err != nil {
		return fmt.Errorf("parsing reconcile backoff base %q: %w", cfg.ReconcileBackoffBase, err)
	}
	sweepInterval, err := time.ParseDuration(cfg.DeploymentExpirationSweep)
	if err != nil {
		return fmt.Errorf("parsing expiration sweep interval %q: %w", cfg.DeploymentExpirationSweep, err)
	}
	extensionPollInterval, err := time.ParseDuration(cfg.ExtensionPollInterval)
	if err != nil {
		return fmt.Errorf("parsing extension poll interval %q: %w", cfg.ExtensionPollInterval, err)
	}

	engine := deployment.NewEngine(
		pool,
		reconciler,
		digestResolver,
		noBuildRequester{},
		logger,
		deployment.Config{
			PollInterval:  pollInterval,
			DeployTimeout: deployTimeout,
			MaxAttempts:   cfg.ReconcileMaxAttempts,
			BackoffBase:   backoffBase,
		},
		telemetry.DeploymentClaimDuration,
		telemetry.ReconcileDuration,
		telemetry.DeploymentsByStatus,
	)
	sweeper := deployment.NewSweeper(pool, logger, sweepInterval)
	pullSecretRefresher := k8s.NewPullSecretRefresher(reconciler, queries, logger, pullSecretRefresh)
	framework := extension.NewFramework(pool, logger, extensionPollInterval, 10*extensionPollInterval, telemetry.ExtensionReconcileTotal)
	finalizer := extension.NewProjectFinalizer(pool, logger, extensionPollInterval)

	group := []func(context.Context) error{
		engine.Run,
		sweeper.Run,
		pullSecretRefresher.Run,
		framework.Run,
		finalizer.Run,
	}

	errCh := make(chan error, len(group))
	for _, run := range group {
		run := run
		go func() { errCh <- run(ctx) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down controller")
		return nil
	case err := <-errCh:
		return err
	}
}

// buildRegistryProvider selects ECR when a role ARN is configured and
// otherwise falls back to the generic Docker-compatible provider, which
// never mints credentials of its own and relies on a pre-seeded pull
// secret (spec §4.3 "externally-managed registry" case).
func buildRegistryProvider(ctx context.Context, cfg *config.Config) (registry.Provider, error) {
	if cfg.ECRRoleARN != "" {
		return registry.NewECRProvider(ctx, cfg.ECRRegion, cfg.ECRRoleARN, cfg.NamespacePrefix+"-", "")
	}
	return registry.NewDockerProvider(cfg.RegistryURL, cfg.NamespacePrefix+"-"), nil
}

// noBuildRequester rejects deployments submitted without a pre-built image.
// No build runner is wired into this control plane yet — submitters are
// expected to push their own image before submitting a deployment, so the
// engine never moves a deployment into Building/Pushing.
type noBuildRequester struct{}

func (noBuildRequester) RequestBuild(ctx context.Context, project db.Project, d db.Deployment) error {
	return fmt.Errorf("no build runner configured: submit a pre-built image instead")
}

