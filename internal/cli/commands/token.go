package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"portalid/internal/domain/auth"
)

func (a *app) newTokenCommand() *cobra.Command {
	var (
		sub auth.Subject
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			jwtCfg := auth.DefaultJWTConfig(a.cfg.JWTSecret)
			if a.cfg.JWTIssuer != "" {
				jwtCfg.Issuer = a.cfg.JWTIssuer
			}
			switch {
			case ttl > 0:
				jwtCfg.AccessTokenTTL = ttl
			case a.cfg.JWTTTL > 0:
				jwtCfg.AccessTokenTTL = a.cfg.JWTTTL
			}

			token, expiresAt, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(sub)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&sub.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&sub.Username, "username", "", "display name")
	cmd.Flags().StringSliceVar(&sub.Roles, "role", nil, "role, repeatable (admin may seed counters)")
	cmd.Flags().BoolVar(&sub.Guest, "guest", false, "issue a guest session token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
