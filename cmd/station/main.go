package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/epass/server/internal/cli"
)

func main() {
	// Load .env if present; EPASS_* variables override station.yaml
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
