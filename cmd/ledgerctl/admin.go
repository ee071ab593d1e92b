package main

import (
	"errors"
	"fmt"
	"os"

	"private-ledger/config"
	pgStorage "private-ledger/internal/adapter/storage/postgres"
	"private-ledger/internal/core/ports"
	"private-ledger/internal/service"
	"private-ledger/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// adminPasswordEnv is read when --password is not given, to keep the
// password out of shell history.
const adminPasswordEnv = "LEDGER_ADMIN_PASSWORD"

func newAdminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
	}
	admin.AddCommand(newAdminCreateCmd())
	return admin
}

func newAdminCreateCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user with the admin scope",
		Long: `Registers a user holding the admin scope. Admins may book fees and interest
and read any account. The API never grants this scope.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(adminPasswordEnv)
			}
			if password == "" {
				return errors.New("password required: pass --password or set " + adminPasswordEnv)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log := logger.New(cfg.Log.Level, true)

			masterKey, err := cfg.Crypto.MasterKeyBytes()
			if err != nil {
				return err
			}
			keys, err := service.NewKeyService(masterKey)
			if err != nil {
				return err
			}

			pool, err := pgStorage.NewPool(cmd.Context(), cfg.Database, log)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			users := service.NewUserService(
				pgStorage.NewUserRepo(pool),
				service.NewArgon2HashService(),
				keys,
				service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
				log,
			)
			user, err := users.Register(cmd.Context(), ports.RegisterRequest{
				Name:     name,
				Email:    email,
				Password: password,
				Admin:    true,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Admin created: "+
				color.YellowString(user.Email)+" ("+user.ID.String()+")")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password (default $"+adminPasswordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
