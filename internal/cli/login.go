package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"broker-gateway/internal/broker"
)

// addLoginFlags binds the Angel One credential flags with env fallbacks.
func addLoginFlags(cmd *cobra.Command) {
	cmd.Flags().String("client-code", "", "Angel One client code (env: ANGEL_CLIENT_CODE)")
	cmd.Flags().String("pin", "", "Angel One PIN (env: ANGEL_PIN)")
	cmd.Flags().String("totp-secret", "", "Angel One TOTP secret (env: ANGEL_TOTP_SECRET)")
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a broker session token",
		Long: `Obtain a broker session token.

Only Angel One supports programmatic login (client code, PIN and TOTP).
AliceBlue, Fyers and Upstox issue tokens through their own portals; pass
those tokens directly in the Authorization header.

The printed token goes into API requests as 'Authorization: Bearer <token>'.`,
		Example: `  gateway login angel --client-code A123456 --pin 1234 --totp-secret JBSWY3DP
  ANGEL_PIN=1234 gateway login angel --client-code A123456 --totp-secret JBSWY3DP`,
	}

	angel := &cobra.Command{
		Use:   "angel",
		Short: "Login to Angel One SmartAPI",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			clientCode := flagOrEnv(cmd, "client-code", "ANGEL_CLIENT_CODE")
			pin := flagOrEnv(cmd, "pin", "ANGEL_PIN")
			totpSecret := flagOrEnv(cmd, "totp-secret", "ANGEL_TOTP_SECRET")
			if clientCode == "" || pin == "" || totpSecret == "" {
				return fmt.Errorf("client-code, pin and totp-secret are required")
			}

			bc := app.Config.Brokers["ANGEL"]
			cfg := broker.Config{
				BaseURL: bc.BaseURL,
				APIKey:  bc.APIKey,
				Logger:  app.Logger,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cred, err := broker.AngelLogin(ctx, cfg, clientCode, pin, totpSecret)
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{
					"broker": string(cred.Broker),
					"token":  cred.Token,
				})
			}
			output.Success("Logged in to Angel One")
			output.Println(cred.Token)
			return nil
		},
	}
	addLoginFlags(angel)
	cmd.AddCommand(angel)

	return cmd
}

func flagOrEnv(cmd *cobra.Command, flag, env string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(env))
}
