// Command seed loads the default classification rules and, when the database
// is empty, a bootstrap admin user. Safe to run repeatedly: rules matching an
// existing active pattern are skipped.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/unboundops/be-cmd-gateway/internal/config"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
	"github.com/unboundops/be-cmd-gateway/internal/service"
)

type seedRule struct {
	pattern     string
	action      repository.Action
	description string
}

var defaultRules = []seedRule{
	{`:\(\)\{\s*:\|:&\s*\};:`, repository.ActionAutoReject, "Block fork bomb"},
	{`rm\s+-rf\s+/`, repository.ActionAutoReject, "Block recursive root deletion"},
	{`mkfs\.`, repository.ActionAutoReject, "Block filesystem formatting"},
	{`git\s+`, repository.ActionAutoReject, "Block all git commands"},
	{`^(ls|cat|pwd|echo)(\s|$)`, repository.ActionAutoAccept, "Allow basic read-only commands"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name + "-seed",
		Version:     cfg.Service.Version,
	})

	ctx := context.Background()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	userRepo := repository.NewUserRepository()
	ruleRepo := repository.NewRuleRepository()
	auditRepo := repository.NewAuditRepository()

	userService := service.NewUserService(db, userRepo, auditRepo, log)
	ruleService := service.NewRuleService(db, ruleRepo, auditRepo, log)

	// Bootstrap user. The first-user rule promotes them to admin/lead; on a
	// populated database this is a no-op conflict.
	admin, apiKey, err := userService.CreateUser(ctx, &service.CreateUserRequest{
		Username: "admin",
	})
	if err == nil {
		log.Info().
			Str("user_id", admin.ID).
			Str("api_key", apiKey).
			Msg("Bootstrap admin created, store this API key now")
	} else {
		log.Info().Msg("Bootstrap admin already exists, skipping")
		admin, err = userRepo.GetByUsername(ctx, db, "admin")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve bootstrap admin")
		}
	}

	existing, err := ruleRepo.List(ctx, db, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list existing rules")
	}
	seen := make(map[string]bool, len(existing))
	for _, rule := range existing {
		seen[rule.Pattern] = true
	}

	for _, sr := range defaultRules {
		if seen[sr.pattern] {
			log.Info().Str("pattern", sr.pattern).Msg("Rule already present, skipping")
			continue
		}
		desc := sr.description
		rule, err := ruleService.CreateRule(ctx, &service.CreateRuleRequest{
			Pattern:     sr.pattern,
			Action:      sr.action,
			Description: &desc,
			ActorID:     admin.ID,
		})
		if err != nil {
			log.Error().Err(err).Str("pattern", sr.pattern).Msg("Failed to create rule")
			continue
		}
		log.Info().
			Str("rule_id", rule.ID).
			Str("description", desc).
			Msg("Rule created")
	}

	log.Info().Msg("Seeding complete")
}
