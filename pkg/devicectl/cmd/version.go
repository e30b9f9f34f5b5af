package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/devicectl/pkg/devicectl/output"
	"github.com/telekom/devicectl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show devicectl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := ""
			if rt != nil {
				writer = rt.Writer()
				format = rt.outputFormat
			}

			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == output.FormatTable {
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			}
			return output.WriteObject(writer, f, info)
		},
	}
}
