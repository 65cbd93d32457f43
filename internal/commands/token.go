package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shorebase/shorebase/internal/auth"
	"github.com/shorebase/shorebase/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage status API tokens",
	Long:  `Generate JWT tokens for authenticating against the status API`,
}

var generateTokenCmd = &cobra.Command{
	Use:   "generate [subject]",
	Short: "Generate an API token",
	Long: `Generate a JWT token signed with security.jwt_secret.

Examples:
  # Read-only token for a dashboard
  shorebase token generate dashboard --role viewer

  # Token that may trigger runs
  shorebase token generate ops --role operator`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateToken,
}

var tokenRole string

func init() {
	generateTokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "token role (admin, operator, viewer)")

	tokenCmd.AddCommand(generateTokenCmd)
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	subject := args[0]

	var role models.Role
	switch tokenRole {
	case "admin":
		role = models.RoleAdmin
	case "operator":
		role = models.RoleOperator
	case "viewer":
		role = models.RoleViewer
	default:
		return fmt.Errorf("unknown role %q (want admin, operator or viewer)", tokenRole)
	}

	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf(`security.jwt_secret is not set

Add to your config.yaml:
  security:
    jwt_secret: your-secret-here`)
	}

	token, err := auth.NewJWTService(cfg).GenerateToken(subject, []models.Role{role})
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Printf("Subject: %s\n", subject)
	fmt.Printf("Role:    %s\n", role)
	fmt.Printf("Expires: %s\n", cfg.Security.JWTExpiration)
	fmt.Printf("\n%s\n", token)

	return nil
}
