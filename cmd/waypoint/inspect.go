package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file|dir> <document.json>",
	Short: "Route a document in memory and print the result",
	Long: `Publishes the template, routes the document against an in-memory engine and prints the
node instance graph together with the action items it published. Roles, groups and delegations
come from the --directory file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("template")
		dirFile, _ := cmd.Flags().GetString("directory")

		directory := memory.NewDirectory()
		if dirFile != "" {
			data, err := os.ReadFile(dirFile)
			if err != nil {
				return fmt.Errorf("failed to read directory: %w", err)
			}
			if directory, err = memory.LoadDirectory(data); err != nil {
				return err
			}
		}

		templates, err := loadTemplates(ctx, args[0])
		if err != nil {
			return err
		}
		tpl, err := pickTemplate(templates, name)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		var doc domain.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse document: %w", err)
		}
		doc.Template = tpl.Name

		var gaps []*domain.GapError
		eng := waypoint.New(
			waypoint.WithDirectory(directory),
			waypoint.WithViewTTL(0),
			waypoint.WithLifecycleHooks(domain.LifecycleHooks{
				OnResolutionGap: func(_ context.Context, e *domain.GapEvent) {
					gaps = append(gaps, e.Gap)
				},
			}),
		)
		if _, err := eng.Publish(ctx, tpl); err != nil {
			return err
		}
		g, err := eng.Route(ctx, doc)
		if err != nil {
			return err
		}
		items, err := eng.ActionList().FindByDocumentID(ctx, doc.ID)
		if err != nil {
			return err
		}

		report := struct {
			Graph       *domain.Graph        `json:"graph"`
			ActionItems []*domain.ActionItem `json:"action_items"`
			Gaps        []string             `json:"gaps,omitempty"`
		}{Graph: g, ActionItems: items}
		for _, gap := range gaps {
			report.Gaps = append(report.Gaps, gap.Error())
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringP("template", "t", "", "Template to route on when the source holds several")
	inspectCmd.Flags().StringP("directory", "d", "", "YAML file with roles, groups and delegations")
}
