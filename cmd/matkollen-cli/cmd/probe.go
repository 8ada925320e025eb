package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"matkollen-backend/lib/scrapers/willys"
)

var probeIdentity string

func init() {
	probeCmd.Flags().StringVar(&probeIdentity, "identity", "", "Identity whose stored session to validate.")
	probeCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Validates a stored session by fetching the portal profile.",
	Run: func(cmd *cobra.Command, args []string) {
		res, err := client.R().
			SetContext(cmd.Context()).
			SetQueryParam("identity", probeIdentity).
			Get("/grocery/session/probe")
		if err != nil {
			fatal(err)
		}
		if res.StatusCode() >= 400 {
			fatal(fmt.Errorf("probe failed: %s", res.String()))
		}

		var profile willys.Profile
		err = json.Unmarshal(res.Body(), &profile)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("session ok: %s (card %s, %s)\n",
			profile.FirstName, profile.MemberCardNumber, profile.Email)
	},
}
