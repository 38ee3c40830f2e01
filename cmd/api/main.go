package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"family-health-access/internal/adapters/auth/idp"
	"family-health-access/internal/adapters/auth/jwtauth"
	"family-health-access/internal/platform/logger"
	"family-health-access/internal/ports/auth"
	"family-health-access/internal/router"
)

func main() {
	log := logger.NewFromEnv()

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	verifier := buildVerifier(log)

	r := router.NewRouter(router.Options{
		AuthVerifier: verifier,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info("starting server", map[string]any{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// buildVerifier elige el verifier por env:
// - JWT_SECRET         => JWT local HS256
// - IDP_BASE_URL+KEY   => identity provider remoto
// - ninguno            => nil (modo dev: header X-Debug-User-ID)
func buildVerifier(log logger.Logger) auth.AuthVerifier {
	if secret := strings.TrimSpace(os.Getenv("JWT_SECRET")); secret != "" {
		v, err := jwtauth.NewVerifier(jwtauth.Config{
			Secret: secret,
			Issuer: os.Getenv("JWT_ISSUER"),
		})
		if err != nil {
			log.Error("jwt verifier init failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		log.Info("auth: jwt verifier", nil)
		return v
	}

	if baseURL := strings.TrimSpace(os.Getenv("IDP_BASE_URL")); baseURL != "" {
		v, err := idp.NewVerifier(idp.Config{
			BaseURL: baseURL,
			APIKey:  os.Getenv("IDP_API_KEY"),
		})
		if err != nil {
			log.Error("idp verifier init failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		log.Info("auth: idp verifier", nil)
		return v
	}

	log.Warn("auth: dev mode (X-Debug-User-ID)", nil)
	return nil
}
