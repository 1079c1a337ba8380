package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a security posture audit against the deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		var report struct {
			Score  int `json:"score"`
			Checks []struct {
				ID        string `json:"id"`
				Label     string `json:"label"`
				Passed    bool   `json:"passed"`
				Severity  string `json:"severity"`
				FixAction string `json:"fix_action"`
			} `json:"checks"`
			Passed int `json:"passed"`
			Failed int `json:"failed"`
		}
		if err := newAPIClient().post("/api/security/audit", nil, &report); err != nil {
			return err
		}

		scoreColor := color.New(color.FgGreen, color.Bold)
		switch {
		case report.Score < 50:
			scoreColor = color.New(color.FgRed, color.Bold)
		case report.Score < 80:
			scoreColor = color.New(color.FgYellow, color.Bold)
		}
		scoreColor.Printf("security score: %d/100 (%d passed, %d failed)\n", report.Score, report.Passed, report.Failed)

		for _, c := range report.Checks {
			mark := color.RedString("✗")
			if c.Passed {
				mark = color.GreenString("✓")
			}
			fmt.Printf("  %s %s [%s]\n", mark, c.Label, c.Severity)
			if !c.Passed {
				fmt.Printf("      fix: %s\n", c.FixAction)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
