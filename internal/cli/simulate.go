package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePrice     float64
	simulateReference float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次跳水价并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateReference <= 0 {
			return errors.New("--price 与 --reference 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		reference := decimal.NewFromFloat(simulateReference)
		return getApp().SimulateAlert(cmd.Context(), price, reference)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的当前最低卖价")
	simulateCmd.Flags().Float64Var(&simulateReference, "reference", 0, "模拟的 30 天参考中位价")
}
