// Command devtoken mints an access token for local development.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"campus/internal/config"
	"campus/internal/middleware"
	"campus/internal/models"
)

func main() {
	userID := flag.Uint("user", 1, "User ID to put in the subject claim")
	role := flag.String("role", string(models.RoleStudent), "Role claim: student, instructor or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to mint development tokens for a production profile")
	}
	if *userID == 0 {
		log.Fatal("-user must be positive")
	}

	token, err := middleware.IssueToken(middleware.TokenConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, *userID, models.ParseRole(*role), *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
