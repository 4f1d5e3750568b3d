package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/signproxy/internal/remote"
)

var pushCmd = &cobra.Command{
	Use:   "push <ref>",
	Short: "Push the cache to a registry",
	Long:  "Publish cached files and the signature lineage as an OCI image.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().Bool("insecure", false, "allow plain HTTP registries")
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) (err error) {
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

	fmt.Fprintf(os.Stderr, "Pushing %s...\n", r)
	if err := svc.Push(cmd.Context(), r); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Done.")
	return nil
}

func newRemote(cmd *cobra.Command, ref string) (*remote.OCIRemote, error) {
	insecure, _ := cmd.Flags().GetBool("insecure")
	opts := remote.Options{
		Insecure: insecure,
		Logger:   newLogger(),
	}
	if user := viper.GetString("remote.username"); user != "" {
		opts.Auth = remote.StaticAuthenticator{Username: user, Password: viper.GetString("remote.password")}
	}
	return remote.NewOCIRemote(ref, opts)
}
