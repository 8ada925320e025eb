package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"matkollen-backend/services/grocery"
)

var fetchIdentity string
var fetchMonthsBack int

func init() {
	fetchCmd.Flags().StringVar(&fetchIdentity, "identity", "", "Identity whose receipts to fetch.")
	fetchCmd.Flags().IntVar(&fetchMonthsBack, "months", 3, "How many months back to fetch.")
	fetchCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetches and parses recent receipts, printing their line items.",
	Run: func(cmd *cobra.Command, args []string) {
		res, err := client.R().
			SetContext(cmd.Context()).
			SetHeader("content-type", "application/json").
			SetBody(map[string]any{
				"identity":     fetchIdentity,
				"months_back":  fetchMonthsBack,
				"with_content": true,
			}).
			Post("/grocery/receipts/fetch")
		if err != nil {
			fatal(err)
		}
		if res.StatusCode() >= 400 {
			fatal(fmt.Errorf("fetch failed: %s", res.String()))
		}

		var result grocery.FetchResult
		err = json.Unmarshal(res.Body(), &result)
		if err != nil {
			fatal(err)
		}

		for _, receipt := range result.Receipts {
			fmt.Printf("%s %s\n", receipt.Date, receipt.Store)
			if receipt.Parsed == nil {
				fmt.Println("  (no parsable text)")
				continue
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Item", "Qty", "Unit", "Discount", "Total"})
			for _, item := range receipt.Parsed.Items {
				t.AppendRow(table.Row{
					item.Name,
					fmt.Sprintf("%g", item.Quantity),
					item.Unit,
					fmt.Sprintf("%.2f", item.Discount),
					fmt.Sprintf("%.2f", item.Total),
				})
			}
			t.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("%.2f", receipt.Parsed.Total)})
			t.SetStyle(table.StyleRounded)
			t.Render()
		}

		fmt.Printf("%d receipts, %d forwarded\n", result.DescriptorCount, result.Forwarded)
	},
}
