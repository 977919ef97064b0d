package cli

import (
	"github.com/spf13/cobra"

	"github.com/metaversebroly/radar-screener/internal/app"
)

var (
	addURL       string
	addThreshold float64
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a StockX product URL to the watchlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Add(cmd.Context(), app.AddOptions{
			URL:          addURL,
			ThresholdPct: addThreshold,
		})
	},
}

func init() {
	addCmd.Flags().StringVar(&addURL, "url", "", "StockX product URL")
	addCmd.Flags().Float64Var(&addThreshold, "threshold", 0, "Dip threshold percent (defaults to config)")
	_ = addCmd.MarkFlagRequired("url")
}
