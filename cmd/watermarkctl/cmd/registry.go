package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the perceptual-hash fallback registry",
}

var registryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry totals by data type and fingerprint kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]interface{}
		if err := newAPIClient().get("/api/registry", &stats); err != nil {
			return err
		}
		fmt.Println(color.CyanString("total_entries:"), stats["total_entries"])
		fmt.Println("by_data_type:", stats["by_data_type"])
		fmt.Println("fingerprints:", stats["fingerprints"])
		return nil
	},
}

var registryExportPath string

var registryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every registry entry to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []map[string]interface{}
		if err := newAPIClient().get("/api/registry/entries", &entries); err != nil {
			return err
		}

		f := excelize.NewFile()
		defer f.Close()

		const sheet = "Registry"
		f.SetSheetName("Sheet1", sheet)

		headers := []string{"wm_id", "data_type", "content_hash", "wm_content_hash",
			"model_name", "context", "registered_at", "schema_version"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for row, entry := range entries {
			for col, h := range headers {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, entry[h])
			}
		}

		if err := f.SaveAs(registryExportPath); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		fmt.Println(color.GreenString("exported %d entries to %s", len(entries), registryExportPath))
		return nil
	},
}

var lookupByID string

var registryGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a single registry entry by watermark id",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entry map[string]interface{}
		if err := newAPIClient().get("/api/registry/"+lookupByID, &entry); err != nil {
			return err
		}
		for k, v := range entry {
			fmt.Println(k+":", v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryStatsCmd)
	registryCmd.AddCommand(registryExportCmd)
	registryCmd.AddCommand(registryGetCmd)

	registryExportCmd.Flags().StringVar(&registryExportPath, "out", "registry.xlsx", "output .xlsx path")
	registryGetCmd.Flags().StringVar(&lookupByID, "id", "", "watermark id")
	registryGetCmd.MarkFlagRequired("id")
}
