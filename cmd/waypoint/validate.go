package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/waypoint/internal/validator"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|dir>",
	Short: "Check templates for consistency",
	Long: `Parses a template file (or every template document of a directory) and reports dangling
successors, unreachable nodes, cycles and unbalanced split/join pairs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := loadTemplates(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var failed int
		for _, tpl := range templates {
			if err := validator.ValidateTemplate(tpl); err != nil {
				failed++
				var tplErr *domain.TemplateError
				if errors.As(err, &tplErr) {
					fmt.Fprintf(out, "Template '%s' is invalid:\n", tpl.Name)
					for _, p := range tplErr.Problems {
						fmt.Fprintf(out, "  - %s\n", p)
					}
					continue
				}
				fmt.Fprintf(out, "Template '%s' is invalid: %v\n", tpl.Name, err)
				continue
			}
			fmt.Fprintf(out, "Template '%s' is valid (%d nodes)\n", tpl.Name, len(tpl.Nodes))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates failed validation", failed, len(templates))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
