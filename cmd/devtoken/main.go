// Command devtoken mints an access token for local testing of the gift card API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eventix/giftcard-api/internal/config"
	"github.com/eventix/giftcard-api/internal/middleware"
	"github.com/eventix/giftcard-api/internal/pkg/jwt"
	"github.com/eventix/giftcard-api/internal/pkg/logger"
)

func main() {
	var (
		userFlag      = flag.String("user", "", "user id (random when empty)")
		organizerFlag = flag.String("organizer", "", "organizer id the token acts for (required)")
		permsFlag     = flag.String("permissions", middleware.PermissionManageGiftCards, "comma separated permissions")
		ttlFlag       = flag.Duration("ttl", 0, "token lifetime (defaults to JWT_ACCESS_TTL)")
	)
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: "warn", Environment: "development", Output: os.Stderr})

	if cfg.IsProduction() {
		log.Fatal().Msg("Refusing to mint tokens in production")
	}

	organizerID, err := uuid.Parse(*organizerFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -organizer")
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			log.Fatal().Err(err).Msg("Invalid -user")
		}
	}

	ttl := cfg.JWTAccessTTL
	if *ttlFlag > 0 {
		ttl = *ttlFlag
	}

	token, err := jwt.NewService(cfg.JWTSecret, ttl).GenerateAccessToken(userID, organizerID, splitPermissions(*permsFlag))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate token")
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("organizer_id", organizerID.String()).
		Time("expires", time.Now().Add(ttl)).
		Msg("Token generated")
	fmt.Println(token)
}

func splitPermissions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
