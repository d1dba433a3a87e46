package main

import (
	"context"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/domain"
	"leadline/internal/engine"
	leadlinesdk "leadline/sdk/go"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage delivery projects",
	}
	cmd.AddCommand(
		projectListCmd(),
		projectShowCmd(),
		projectCreateCmd(),
		projectUpdateCmd(),
		projectDeleteCmd(),
	)
	return cmd
}

func projectListCmd() *cobra.Command {
	var opts engine.ProjectListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				items, err := c.ListProjects(cmd.Context(), leadlinesdk.ProjectQuery{
					LeadID: opts.LeadID,
					Stage:  opts.Stage,
					Skip:   opts.Skip,
					Limit:  opts.Limit,
				})
				if err != nil {
					return err
				}
				projects := make([]domain.Project, 0, len(items))
				for _, p := range items {
					projects = append(projects, domain.Project(p))
				}
				return printProjects(projects)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Engine.ListProjects(ctx, opts)
				if err != nil {
					return err
				}
				return printProjects(projects)
			})
		},
	}
	cmd.Flags().StringVar(&opts.LeadID, "lead", "", "lead id filter")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage filter (discovery, build, launch)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultLeadLimit, "max rows")
	return cmd
}

func printProjects(projects []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(projects)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Lead", "Stage", "Value (USD)", "Created"})
	for _, p := range projects {
		tw.AppendRow(table.Row{p.ID, deref(p.LeadID), p.Stage, formatUSD(p.Value), p.CreatedAt})
	}
	tw.Render()
	return nil
}

func formatUSD(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				p, err := c.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var (
		lead, stage string
		value       float64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a project, optionally linked to a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			var valuePtr *float64
			if cmd.Flags().Changed("value") {
				valuePtr = &value
			}
			if c := remoteClient(); c != nil {
				p, err := c.CreateProject(cmd.Context(), leadlinesdk.ProjectInput{
					LeadID: optionalString(lead),
					Stage:  stage,
					Value:  valuePtr,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					LeadID:  optionalString(lead),
					Stage:   stage,
					Value:   valuePtr,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&lead, "lead", "", "lead id")
	cmd.Flags().StringVar(&stage, "stage", "", "stage, discovery when omitted")
	cmd.Flags().Float64Var(&value, "value", 0, "value in USD")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var (
		stage      string
		value      float64
		clearValue bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update project fields",
		Long:  "Only flags that are passed are changed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var (
				stagePtr *string
				valuePtr *float64
			)
			if flags.Changed("stage") {
				stagePtr = &stage
			}
			if flags.Changed("value") {
				valuePtr = &value
			}
			if c := remoteClient(); c != nil {
				p, err := c.UpdateProject(cmd.Context(), args[0], leadlinesdk.ProjectUpdate{
					Stage:      stagePtr,
					Value:      valuePtr,
					ClearValue: clearValue,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.UpdateProject(ctx, engine.ProjectUpdateOptions{
					ID:         args[0],
					Stage:      stagePtr,
					Value:      valuePtr,
					ClearValue: clearValue,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage (discovery, build, launch)")
	cmd.Flags().Float64Var(&value, "value", 0, "value in USD")
	cmd.Flags().BoolVar(&clearValue, "clear-value", false, "remove the value")
	cmd.MarkFlagsMutuallyExclusive("value", "clear-value")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				return c.DeleteProject(cmd.Context(), args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}
