package main

import (
	"fmt"
	"os"

	"github.com/1ambda/dataops-platform-sub014/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Metadata and orchestration layer for scheduled data pipelines",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
