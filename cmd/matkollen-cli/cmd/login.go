package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"matkollen-backend/lib/scrapers/willys"
)

var loginIdentity string
var loginVisible bool
var loginQrPath string

func init() {
	loginCmd.Flags().StringVar(&loginIdentity, "identity", "", "Identity to log in as (empty for an anonymous, uncached login).")
	loginCmd.Flags().BoolVar(&loginVisible, "visible", false, "Drive a visible browser window instead of a headless one.")
	loginCmd.Flags().StringVar(&loginQrPath, "qr", "bankid-qr.png", "Where to write the BankID QR code image.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Runs a BankID login and streams its progress.",
	Run: func(cmd *cobra.Command, args []string) {
		body, _ := json.Marshal(map[string]any{
			"identity": loginIdentity,
			"headless": !loginVisible,
		})

		res, err := client.R().
			SetContext(cmd.Context()).
			SetHeader("content-type", "application/json").
			SetBody(body).
			SetDoNotParseResponse(true).
			Post("/grocery/login")
		if err != nil {
			fatal(err)
		}
		defer res.RawBody().Close()

		scanner := bufio.NewScanner(res.RawBody())
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event willys.Event
			err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event)
			if err != nil {
				fatal(err)
			}

			switch event.Kind {
			case willys.EventLog:
				fmt.Println(event.Message)
			case willys.EventQr:
				err := os.WriteFile(loginQrPath, event.QrPng, 0644)
				if err != nil {
					fatal(err)
				}
				fmt.Printf("scan %s with your BankID app\n", loginQrPath)
			case willys.EventCollect:
				fmt.Printf("waiting on BankID (%s)\n", event.HintCode)
			case willys.EventDone:
				fmt.Println("login complete")
				return
			case willys.EventError:
				fatal(fmt.Errorf("login failed: %s", event.Err))
			}
		}
		if err := scanner.Err(); err != nil {
			fatal(err)
		}
	},
}
