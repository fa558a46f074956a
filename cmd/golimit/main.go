// Command golimit computes asymptotic CLs upper limits for binned counting
// models described in YAML.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "golimit",
	Short: "Asymptotic CLs limits for binned likelihood models",
	Long: `golimit computes median, observed and injected upper limits on a
signal strength, with expected bands and background-only p-values,
using the asymptotic formulae for the profile likelihood ratio.`,
	SilenceUsage: true,
}
