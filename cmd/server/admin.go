package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/verdict/pkg/config"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

// deleteAccount drops the usage record of an account the auth provider has
// removed. Operator only: a recreated record starts with a full free allowance.
func deleteAccount(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: delete-account <account-id>")
	}
	id := identity.Authenticated(args[0], "")

	var (
		cfg    appConfig
		policy entitlement.Policy
	)
	if err := errors.Join(config.Load(&cfg), config.Load(&policy)); err != nil {
		return err
	}
	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
	)

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	entitlements := entitlement.NewService(backend.store,
		entitlement.WithPolicy(policy),
		entitlement.WithLogger(log),
	)
	if err := entitlements.Delete(ctx, id.Key()); err != nil {
		return fmt.Errorf("delete account %s: %w", id.AccountID, err)
	}
	log.InfoContext(ctx, "account usage deleted",
		logger.Component("admin"),
		logger.Identity(id.Key().String()),
		slog.String("driver", cfg.StoreDriver),
	)
	return nil
}
