package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/agent"
	"leadline/internal/app"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	leadlinesdk "leadline/sdk/go"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run agents and read their execution logs",
	}
	cmd.AddCommand(agentListCmd(), agentRunCmd(), agentLogsCmd())
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				items, err := c.Agents(cmd.Context())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			}
			items := agent.Catalogue()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Key", "Name", "Description"})
			for _, d := range items {
				tw.AppendRow(table.Row{d.Key, d.Name, d.Description})
			}
			tw.Render()
			return nil
		},
	}
}

func agentRunCmd() *cobra.Command {
	var runContext string
	cmd := &cobra.Command{
		Use:   "run <agent>",
		Short: "Run an agent",
		Long: `Runs an agent against the local workspace and waits for the outcome.
With --remote the run is only scheduled; follow it with 'll agent logs'.
--context takes inline JSON or @file, e.g. --context '{"limit":5}' for tech_debt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readJSONArg(runContext)
			if err != nil {
				return err
			}
			if c := remoteClient(); c != nil {
				var payload any
				if input != nil {
					payload = input
				}
				res, err := c.ExecuteAgent(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.RunNow(ctx, args[0], input)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(out); err != nil {
					return err
				}
				if out.Status == domain.RunStatusFailed {
					return fmt.Errorf("agent %s failed: %s", args[0], out.ErrorMessage)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runContext, "context", "", "agent context as JSON or @file")
	return cmd
}

func agentLogsCmd() *cobra.Command {
	var q dispatch.LogQuery
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List execution logs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				items, err := c.Logs(cmd.Context(), leadlinesdk.LogQuery{AgentName: q.AgentName, Skip: q.Skip, Limit: q.Limit})
				if err != nil {
					return err
				}
				logs := make([]domain.AgentExecutionLog, 0, len(items))
				for _, l := range items {
					logs = append(logs, domain.AgentExecutionLog(l))
				}
				return printLogs(logs)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				logs, err := a.Dispatcher.ReadLogs(ctx, q)
				if err != nil {
					return err
				}
				return printLogs(logs)
			})
		},
	}
	cmd.Flags().StringVar(&q.AgentName, "agent", "", "agent name filter")
	cmd.Flags().IntVar(&q.Skip, "skip", 0, "rows to skip")
	cmd.Flags().IntVar(&q.Limit, "limit", dispatch.DefaultLogLimit, "max rows")
	return cmd
}

func printLogs(logs []domain.AgentExecutionLog) error {
	if viper.GetBool("json") {
		return printJSON(logs)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Records", "Started", "Ended", "Error"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.ID, l.AgentName, l.Status, l.RecordsProcessed, l.StartTime, deref(l.EndTime), deref(l.ErrorMessage)})
	}
	tw.Render()
	return nil
}
