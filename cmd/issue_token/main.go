package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/coin_autopilot/internal/config"
	"github.com/vitos/coin_autopilot/internal/web"
)

// issue_token prints a bearer token for the HTTP API signed with server.jwt_secret.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	subject := flag.String("sub", "operator", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.JWTSecret == "" {
		fmt.Println("server.jwt_secret is empty; the API does not require a token")
		os.Exit(1)
	}

	token, err := web.IssueToken([]byte(cfg.Server.JWTSecret), *subject, *ttl)
	if err != nil {
		fmt.Printf("Failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
