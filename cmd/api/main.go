// Command api serves the threshold HTTP API and runs the expiry sweeper.
package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/risk-thresholds/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "risk-thresholds api: %v\n", err)
		os.Exit(1)
	}
}
