package main

import (
	"fmt"

	"github.com/aretw0/waypoint/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <file|dir>",
	Short: "Export a template as a Mermaid diagram",
	Long:  `Reads a template and outputs a Mermaid diagram (graph TD) of its nodes, branches and processes.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("template")

		templates, err := loadTemplates(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tpl, err := pickTemplate(templates, name)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(tpl, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("template", "t", "", "Template to render when the source holds several")
}
