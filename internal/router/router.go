package router

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	mem "family-health-access/internal/adapters/storage/memory"
	pg "family-health-access/internal/adapters/storage/postgres"
	rds "family-health-access/internal/adapters/storage/redis"
	"family-health-access/internal/domain/access"
	"family-health-access/internal/domain/audit"
	"family-health-access/internal/domain/children"
	"family-health-access/internal/domain/grants"
	"family-health-access/internal/domain/privacy"
	"family-health-access/internal/domain/sessions"
	"family-health-access/internal/domain/sharetokens"
	"family-health-access/internal/middleware"
	"family-health-access/internal/platform/logger"
	"family-health-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)
	Logger       logger.Logger     // puede ser nil (sin request logging)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	// Opcional: si viene, sesiones y share tokens van a Redis.
	Redis *goredis.Client

	// Tuning (cero = defaults).
	DecisionCacheTTL time.Duration
	FreshnessWindow  time.Duration
	ElevationWindow  time.Duration
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var (
		childrenRepo children.Repository
		grantsRepo   grants.Repository
		privacyRepo  privacy.Repository
		tokensRepo   sharetokens.Repository
		auditRepo    audit.Repository
		sessionsRepo sessions.Repository
	)

	// Si no te pasan DB explícita, intenta por env (para dev/handoff)
	db := opts.DB
	if db == nil {
		if dsn := os.Getenv("DB_DSN"); dsn != "" {
			opened, err := pg.Open(dsn)
			if err == nil {
				db = opened
			}
		}
	}

	if db != nil {
		childrenRepo = pg.NewChildrenRepo(db)
		grantsRepo = pg.NewGrantsRepo(db)
		privacyRepo = pg.NewPrivacyRepo(db)
		tokensRepo = pg.NewShareTokensRepo(db)
		auditRepo = pg.NewAuditRepo(db)
	} else {
		childrenRepo = mem.NewChildrenRepo()
		grantsRepo = mem.NewGrantsRepo()
		privacyRepo = mem.NewPrivacyRepo()
		tokensRepo = mem.NewShareTokensRepo()
		auditRepo = mem.NewAuditRepo()
	}

	// Estado volátil con TTL (sesiones y tokens de proveedor): Redis si está
	// disponible; los tokens pisan la elección de arriba.
	redisClient := opts.Redis
	if redisClient == nil {
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			redisClient = goredis.NewClient(&goredis.Options{
				Addr:     addr,
				Password: os.Getenv("REDIS_PASSWORD"),
			})
		}
	}

	if redisClient != nil {
		sessionsRepo = rds.NewSessionsRepo(redisClient)
		tokensRepo = rds.NewShareTokensRepo(redisClient)
	} else {
		sessionsRepo = mem.NewSessionsRepo()
	}

	// Services por módulo
	auditSvc := audit.NewService(auditRepo)
	childrenSvc := children.NewService(childrenRepo)
	grantsSvc := grants.NewService(grantsRepo)
	privacySvc := privacy.NewService(privacyRepo)
	sessionsSvc := sessions.NewService(sessionsRepo, auditSvc, sessions.Options{
		FreshnessWindow: opts.FreshnessWindow,
		ElevationWindow: opts.ElevationWindow,
	})

	resolver := access.NewResolver(grantsSvc, privacySvc, auditSvc, access.ResolverOptions{
		CacheTTL: opts.DecisionCacheTTL,
	})
	tokensSvc := sharetokens.NewService(tokensRepo, resolver, auditSvc)

	// Cableado cruzado post-construcción (rompe los ciclos de dependencia):
	// - settings/grants invalidan el decision cache al escribir
	// - revocar un grant purga al delegado de los overrides por hijo
	// - el resolver valida sesiones; emisión de tokens gasta elevación
	privacySvc.SetCacheInvalidator(resolver)
	grantsSvc.SetCacheInvalidator(resolver)
	grantsSvc.SetPrivacyPurger(privacySvc)
	resolver.SetSessionChecker(sessionsSvc)
	tokensSvc.SetElevationConsumer(sessionsSvc)

	// Rutas por módulo
	children.RegisterRoutes(r, childrenSvc, resolver, grantsSvc)
	grants.RegisterRoutes(r, grantsSvc)
	privacy.RegisterRoutes(r, privacySvc, resolver, childrenSvc, sessionsSvc)
	access.RegisterRoutes(r, resolver)
	sharetokens.RegisterRoutes(r, tokensSvc, childrenSvc, resolver)
	sharetokens.RegisterPublicRoutes(r, tokensSvc)
	sessions.RegisterRoutes(r, sessionsSvc)
	audit.RegisterRoutes(r, auditSvc, resolver)

	return r
}
