package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/gherk"
)

func newImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Generate feature skeletons from other formats (openapi)",
	}

	openapi := &cobra.Command{
		Use:   "openapi",
		Short: "Import from OpenAPI/Swagger",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromCmd(cmd)
			src, _ := cmd.Flags().GetString("source")
			outDir, _ := cmd.Flags().GetString("output")
			name, _ := cmd.Flags().GetString("suite-name")
			groupBy, _ := cmd.Flags().GetString("group-by")
			insecure, _ := cmd.Flags().GetBool("insecure")
			allowRemoteRefs, _ := cmd.Flags().GetBool("allow-remote-refs")
			allowFileRefs, _ := cmd.Flags().GetBool("allow-file-refs")
			disableAsserts, _ := cmd.Flags().GetBool("disable-assertions")
			includePaths, _ := cmd.Flags().GetStringSlice("include-path")
			if src == "" {
				return fmt.Errorf("--source is required")
			}
			if outDir == "" {
				return fmt.Errorf("--output is required")
			}
			return gherk.ImportOpenAPI(cmd.Context(), gherk.ImportOptions{
				Source:            src,
				OutputDir:         outDir,
				SuiteName:         name,
				GroupBy:           groupBy,
				Insecure:          insecure,
				AllowRemoteRefs:   allowRemoteRefs,
				AllowFileRefs:     allowFileRefs,
				DisableAssertions: disableAsserts,
				IncludePaths:      includePaths,
				Logger:            logger,
			})
		},
	}

	addLoggingFlags(importCmd.Flags())
	addLoggingFlags(openapi.Flags())

	openapi.Flags().StringP("source", "s", "", "Path or URL to source file")
	openapi.Flags().StringP("output", "o", "", "Output directory for generated features")
	openapi.Flags().StringP("suite-name", "n", "", "Name for the generated suite")
	openapi.Flags().Bool("insecure", false, "Skip TLS verification when fetching URL")
	openapi.Flags().StringP("group-by", "g", "tags", "Group by tags|path")
	openapi.Flags().Bool("allow-remote-refs", false, "Allow following remote $refs inside the OpenAPI document")
	openapi.Flags().Bool("allow-file-refs", false, "Allow absolute/local file $refs (blocked by default for security)")
	openapi.Flags().Bool("disable-assertions", false, "Skip response-example assertion steps")
	openapi.Flags().StringSliceP("include-path", "i", nil, "Only import operations whose path starts with one of these prefixes (repeatable)")

	importCmd.AddCommand(openapi)
	return importCmd
}
