package cli

import (
	"fmt"

	"lexicon-go/pkg/token"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin token for POST /admin/reload",
	Run:   runToken,
}

var (
	tokenSubject string
	tokenHours   int
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (required)")
	tokenCmd.Flags().IntVar(&tokenHours, "hours", 0, "有效期（小时），默认取配置 jwt.token_expire_hours")
	tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	hours := cfg.JWT.TokenExpireHours
	if tokenHours > 0 {
		hours = tokenHours
	}

	tok, err := token.NewJWTManager(cfg.JWT.Secret, hours).GenerateToken(tokenSubject, token.RoleAdmin)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Println(tok)
}
