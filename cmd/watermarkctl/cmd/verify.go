package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	verifyDataType string
	verifyInput    string
	verifyModel    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify and risk-classify a file for an embedded watermark",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(verifyInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		encoded := base64.StdEncoding.EncodeToString(raw)
		if verifyDataType == "text" {
			encoded = string(raw)
		}

		req := map[string]interface{}{
			"data_type":  verifyDataType,
			"data":       encoded,
			"model_name": verifyModel,
		}

		var resp struct {
			VerificationResult map[string]interface{} `json:"verification_result"`
			InsightAndRisk     map[string]interface{} `json:"insight_and_risk"`
			ForensicDetails    map[string]interface{} `json:"forensic_details"`
		}
		if err := newAPIClient().post("/api/verify", req, &resp); err != nil {
			return err
		}

		detected, _ := resp.VerificationResult["watermark_detected"].(bool)
		statusColor := color.New(color.FgGreen, color.Bold)
		if !detected {
			statusColor = color.New(color.FgYellow, color.Bold)
		}
		statusColor.Printf("watermark_detected: %v\n", detected)

		for k, v := range resp.VerificationResult {
			if k == "watermark_detected" {
				continue
			}
			fmt.Printf("  %s: %v\n", k, v)
		}

		riskColor := color.New(color.FgGreen)
		switch resp.InsightAndRisk["predicted_risk_level"] {
		case "Medium":
			riskColor = color.New(color.FgYellow)
		case "High":
			riskColor = color.New(color.FgRed, color.Bold)
		}
		riskColor.Printf("risk: %v (score %v)\n",
			resp.InsightAndRisk["predicted_risk_level"], resp.InsightAndRisk["predicted_risk_score"])
		fmt.Println("  insight:", resp.InsightAndRisk["insight"])
		fmt.Println("  decision:", resp.InsightAndRisk["automated_decision"])

		for k, v := range resp.ForensicDetails {
			fmt.Printf("  %s: %v\n", k, v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyDataType, "type", "text", "data type: text|image|audio|video|pdf")
	verifyCmd.Flags().StringVar(&verifyInput, "in", "", "input file path")
	verifyCmd.Flags().StringVar(&verifyModel, "model", "", "model hint if the watermark's own model tag is missing")
	verifyCmd.MarkFlagRequired("in")
}
