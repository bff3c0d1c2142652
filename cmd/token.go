package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/tagfinder/internal/auth"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue an access token for a user id",
	Long:  `Issue a signed bearer token for local testing of the authenticated payment endpoints.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID int64
		if _, err := fmt.Sscan(args[0], &userID); err != nil || userID <= 0 {
			return errors.New("user-id must be a positive integer")
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Security.Validate(); err != nil {
			return fmt.Errorf("security config: %w", err)
		}

		ttl := cfg.Security.AccessTokenDuration
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, expiresAt, err := auth.NewTokenIssuer(cfg.Security.JWTSecret, ttl).Issue(userID)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Println("expires:", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (overrides security.access_token_duration)")
}
