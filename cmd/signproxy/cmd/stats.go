package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	st, err := svc.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("files\t%d (%s)\n", st.Blobs, humanize.Bytes(uint64(st.Bytes)))
	fmt.Printf("keep\t%d\n", st.Keep)
	fmt.Printf("temp\t%d\n", st.Temp)
	fmt.Printf("sha1\t%d\n", st.SHA1)
	fmt.Printf("sha256\t%d\n", st.SHA256)
	return nil
}
