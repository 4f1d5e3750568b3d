package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop signed and intermediate files",
	Long:  "Remove every temporary file and recorded signature. Original uploads are kept.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) (err error) {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := svc.Clear(cmd.Context())
	if err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Removed %d files.\n", n)
	return nil
}
