package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	embedDataType  string
	embedInputPath string
	embedOutPath   string
	embedStrength  float64
	embedModel     string
	embedContext   string
)

var successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed a watermark into a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(embedInputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		var bar *progressbar.ProgressBar
		if embedDataType == "video" {
			bar = progressbar.Default(-1, "embedding watermark")
			defer bar.Finish()
		}

		encoded := base64.StdEncoding.EncodeToString(raw)
		if embedDataType == "text" {
			encoded = string(raw)
		}

		req := map[string]interface{}{
			"data_type":          embedDataType,
			"data":               encoded,
			"watermark_strength": embedStrength,
			"model_name":         embedModel,
			"context":            embedContext,
		}

		var resp struct {
			WatermarkedData    string                 `json:"watermarked_data"`
			WatermarkMetadata  map[string]interface{} `json:"watermark_metadata"`
			IntegrityProof     map[string]interface{} `json:"integrity_proof"`
		}
		if err := newAPIClient().post("/api/watermark", req, &resp); err != nil {
			return err
		}

		var out []byte
		if embedDataType == "text" {
			out = []byte(resp.WatermarkedData)
		} else {
			out, err = base64.StdEncoding.DecodeString(resp.WatermarkedData)
			if err != nil {
				return fmt.Errorf("decode watermarked data: %w", err)
			}
		}

		if embedOutPath != "" {
			if err := os.WriteFile(embedOutPath, out, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}

		fmt.Println(successStyle.Render("watermark embedded"))
		fmt.Println(labelStyle.Render("watermark_id:"), color.CyanString("%v", resp.WatermarkMetadata["watermark_id"]))
		fmt.Println(labelStyle.Render("method:"), resp.WatermarkMetadata["embedding_method"])
		fmt.Println(labelStyle.Render("fingerprint:"), resp.WatermarkMetadata["fingerprint_hash"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().StringVar(&embedDataType, "type", "text", "data type: text|image|audio|video|pdf")
	embedCmd.Flags().StringVar(&embedInputPath, "in", "", "input file path")
	embedCmd.Flags().StringVar(&embedOutPath, "out", "", "output file path for watermarked content")
	embedCmd.Flags().Float64Var(&embedStrength, "strength", 0.8, "watermark strength, 0-1")
	embedCmd.Flags().StringVar(&embedModel, "model", "", "originating model name")
	embedCmd.Flags().StringVar(&embedContext, "context", "", "deployment context tag")
	embedCmd.MarkFlagRequired("in")
}
