package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	apiBaseURL string
	apiKey     string
)

var rootCmd = &cobra.Command{
	Use:   "watermarkctl",
	Short: "Operate a self-authenticating AI content watermark engine",
	Long: `watermarkctl drives a running watermark engine: embed watermarks
into text, image, audio, video, or PDF content, verify and risk-classify
content that may carry one, inspect the perceptual-hash fallback
registry, and manage the deployment's own security posture.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.watermarkctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "http://localhost:8080", "watermark engine base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authenticated requests")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".watermarkctl")
	}

	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if viper.GetString("api") != "" && apiBaseURL == "http://localhost:8080" {
		apiBaseURL = viper.GetString("api")
	}
	if viper.GetString("api_key") != "" && apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
}
