// Command loadtest drives a running polling server with concurrent voters and
// smoke-tests the Redis-backed helpers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "loadtest",
		Short:   "Load and smoke tests for the student polling backend",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("url", "http://localhost:8090", "Base URL of the server")

	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(redisCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
