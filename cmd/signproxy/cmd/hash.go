package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/signproxy"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print content hashes",
	Long:  "Print the content hash a client sends to /exists for each file.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		h, err := signproxy.HashFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", h, path)
	}
	return nil
}
