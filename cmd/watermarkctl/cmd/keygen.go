package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var keygenNonInteractive bool
var keygenScope string
var keygenExpiresDays int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Issue a new scoped API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := keygenScope
		expiresDays := keygenExpiresDays

		if !keygenNonInteractive {
			scopePrompt := &survey.Select{
				Message: "Key scope:",
				Options: []string{"read", "write", "admin"},
				Default: "read",
			}
			if err := survey.AskOne(scopePrompt, &scope); err != nil {
				return fmt.Errorf("prompt scope: %w", err)
			}

			expiresPrompt := &survey.Input{
				Message: "Expires in how many days?",
				Default: "30",
			}
			var expiresStr string
			if err := survey.AskOne(expiresPrompt, &expiresStr, survey.WithValidator(survey.Required)); err != nil {
				return fmt.Errorf("prompt expiry: %w", err)
			}
			fmt.Sscanf(expiresStr, "%d", &expiresDays)

			confirm := false
			confirmPrompt := &survey.Confirm{
				Message: fmt.Sprintf("Issue a %s-scoped key expiring in %d days?", scope, expiresDays),
				Default: true,
			}
			if err := survey.AskOne(confirmPrompt, &confirm); err != nil {
				return fmt.Errorf("prompt confirm: %w", err)
			}
			if !confirm {
				fmt.Println("aborted")
				return nil
			}
		}

		req := map[string]interface{}{"scope": scope, "expires_in_days": expiresDays}
		var resp struct {
			APIKey  string `json:"api_key"`
			KeyID   string `json:"key_id"`
			Scope   string `json:"scope"`
			Expires string `json:"expires"`
		}
		if err := newAPIClient().post("/api/security/keys", req, &resp); err != nil {
			return err
		}

		fmt.Println(color.YellowString("this key is shown once — store it securely"))
		fmt.Println(color.CyanString("api_key:"), resp.APIKey)
		fmt.Println("key_id:", resp.KeyID)
		fmt.Println("scope:", resp.Scope)
		fmt.Println("expires:", resp.Expires)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVar(&keygenNonInteractive, "yes", false, "skip interactive prompts, use flags")
	keygenCmd.Flags().StringVar(&keygenScope, "scope", "read", "key scope: read|write|admin")
	keygenCmd.Flags().IntVar(&keygenExpiresDays, "expires-days", 30, "key lifetime in days")
}
