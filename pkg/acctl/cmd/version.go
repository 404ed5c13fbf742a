package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/acctl/pkg/acctl/output"
	"github.com/telekom/acctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show acctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt != nil {
				writer = rt.Writer()
				f, err := rt.OutputFormat()
				if err != nil {
					return err
				}
				format = f
			}
			return output.Write(writer, format, info, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "acctl %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
				_, _ = fmt.Fprintf(w, "user agent: %s\n", version.UserAgent())
			})
		},
	}
}
