package main

import (
	"os"

	"matkollen-backend/cmd/matkollen-cli/cmd"
)

func main() {
	baseUrl, ok := os.LookupEnv("MATKOLLEN_BASE_URL")
	if !ok {
		baseUrl = "http://localhost:8000"
	}
	cmd.BaseUrl = baseUrl

	cmd.Execute()
}
