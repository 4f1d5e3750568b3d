package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull a cache from a registry",
	Long:  "Download missing cached files and merge the signature lineage from an OCI image.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().Bool("insecure", false, "allow plain HTTP registries")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r, err := newRemote(cmd, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Pulling %s...\n", r)
	st, err := svc.Pull(cmd.Context(), r)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Done. %d fetched, %d already cached.\n", st.Fetched, st.Skipped)
	return nil
}
