package main

import "github.com/ayo6706/risk-thresholds/internal/cli"

func main() {
	cli.Execute()
}
