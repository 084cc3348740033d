package main

import (
	"os"

	"github.com/classlive/classroom-rtc/internal/logging"
)

func main() {
	logging.Init()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
