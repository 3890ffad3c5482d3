package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// docGenerators render the command tree into dir.
var docGenerators = map[string]func(root *cobra.Command, dir string) error{
	"man": func(root *cobra.Command, dir string) error {
		return doc.GenManTree(root, &doc.GenManHeader{
			Title:   "MIRRORGATE",
			Section: "1",
			Source:  "mirrorgate " + version,
			Manual:  "Mirrorgate Manual",
		}, dir)
	},
	"markdown": doc.GenMarkdownTree,
	"rest":     doc.GenReSTTree,
	"yaml":     doc.GenYamlTree,
}

func newDocsCmd() *cobra.Command {
	var dir, format string
	formats := slices.Sorted(maps.Keys(docGenerators))

	cmd := &cobra.Command{
		Use:    "gen-docs",
		Short:  "Write man pages or reference docs for every command",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen, ok := docGenerators[format]
			if !ok {
				return fmt.Errorf("unknown docs format %q, want one of %s", format, strings.Join(formats, ", "))
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create docs dir: %w", err)
			}
			root := cmd.Root()
			root.DisableAutoGenTag = true
			return gen(root, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "docs", "directory to write into")
	cmd.Flags().StringVar(&format, "format", "man", "docs format: "+strings.Join(formats, ", "))
	return cmd
}
