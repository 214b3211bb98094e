package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"assetforge/internal/api"
	"assetforge/internal/config"
	"assetforge/internal/rights"
)

const (
	subjectFlag    = "subject"
	profileFlag    = "profile"
	superAdminFlag = "super-admin"
	deniedFlag     = "denied"
	ttlFlag        = "ttl"
)

var flags = map[string]cobraflags.Flag{
	subjectFlag: &cobraflags.StringFlag{
		Name:  subjectFlag,
		Value: "",
		Usage: "User id placed in the sub claim (required)",
	},
	profileFlag: &cobraflags.StringFlag{
		Name:  profileFlag,
		Value: "",
		Usage: "Profile id matched against definition rights",
	},
	superAdminFlag: &cobraflags.StringFlag{
		Name:  superAdminFlag,
		Value: "false",
		Usage: "Grant configuration rights (true, false)",
	},
	deniedFlag: &cobraflags.StringFlag{
		Name:  deniedFlag,
		Value: "",
		Usage: "Comma separated itemtypes the profile may not read",
	},
	ttlFlag: &cobraflags.StringFlag{
		Name:  ttlFlag,
		Value: "24h",
		Usage: "Token lifetime; 0 issues a token without expiry",
	},
}

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with auth.jwt_secret",
		RunE:  tokenCommand,
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func tokenCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Options{Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret)
	if auth == nil {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	actor := rights.Actor{
		ID:      flags[subjectFlag].GetString(),
		Profile: flags[profileFlag].GetString(),
	}
	if actor.ID == "" {
		return fmt.Errorf("--%s is required", subjectFlag)
	}
	if actor.SuperAdmin, err = strconv.ParseBool(flags[superAdminFlag].GetString()); err != nil {
		return fmt.Errorf("--%s: %w", superAdminFlag, err)
	}
	for _, it := range strings.Split(flags[deniedFlag].GetString(), ",") {
		if it = strings.TrimSpace(it); it != "" {
			actor.Denied = append(actor.Denied, it)
		}
	}
	ttl, err := time.ParseDuration(flags[ttlFlag].GetString())
	if err != nil {
		return fmt.Errorf("--%s: %w", ttlFlag, err)
	}

	tok, err := auth.Issue(actor, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
