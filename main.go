package main

import (
	"os"

	"github.com/pchhetri/zendesk-apps-tools/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
