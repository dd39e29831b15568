package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hlsgate/internal/domain/stream"
)

func newFingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "fingerprint <url>...",
		Short:       "Print the job fingerprint and playlist path for source URLs",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, raw := range args {
				source, err := stream.NormalizeSource(raw)
				if err != nil {
					return fmt.Errorf("%q: %w", raw, err)
				}
				fp, err := stream.ResolveFingerprint(source)
				if err != nil {
					return fmt.Errorf("%q: %w", raw, err)
				}
				fmt.Fprintf(out, "%s  %s\n", fp, stream.PlaylistURLPath(fp))
			}
			return nil
		},
	}
}
