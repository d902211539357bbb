package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/setu/events-api/internal/auth"
	"github.com/setu/events-api/internal/types"
)

var (
	tokenID   int64
	tokenRole string
)

// tokenCmd mints a bearer token signed with the configured secret, for
// calling the API locally without the authentication service.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed bearer token for an identity",
	Example: `  setu-events token --id 10 --role student
  setu-events token --id 1 --role admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		manager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
		token, err := manager.Generate(types.Identity{ID: tokenID, Role: types.Role(tokenRole)})
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenID, "id", 0, "identity id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "identity role: student, alumni or admin")
	_ = tokenCmd.MarkFlagRequired("id")
	_ = tokenCmd.MarkFlagRequired("role")
}
