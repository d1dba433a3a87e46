package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/agent"
	"leadline/internal/app"
	"leadline/internal/domain"
	"leadline/internal/engine"
	leadlinesdk "leadline/sdk/go"
)

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Manage leads",
	}
	cmd.AddCommand(
		leadListCmd(),
		leadShowCmd(),
		leadCreateCmd(),
		leadUpdateCmd(),
		leadDeleteCmd(),
		leadDiscoverCmd(),
		leadReviewsCmd(),
		leadEventsCmd(),
	)
	return cmd
}

func leadListCmd() *cobra.Command {
	var opts engine.LeadListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				items, err := c.ListLeads(cmd.Context(), leadlinesdk.LeadQuery{
					Status:        opts.Status,
					VettingStatus: opts.VettingStatus,
					Skip:          opts.Skip,
					Limit:         opts.Limit,
				})
				if err != nil {
					return err
				}
				leads := make([]domain.Lead, 0, len(items))
				for _, l := range items {
					leads = append(leads, domain.Lead(l))
				}
				return printLeads(leads)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				leads, err := a.Engine.ListLeads(ctx, opts)
				if err != nil {
					return err
				}
				return printLeads(leads)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "pipeline status filter")
	cmd.Flags().StringVar(&opts.VettingStatus, "vetting", "", "vetting status filter")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultLeadLimit, "max rows")
	return cmd
}

func printLeads(leads []domain.Lead) error {
	if viper.GetBool("json") {
		return printJSON(leads)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Company", "Website", "Status", "Vetting", "Score", "Reason"})
	for _, l := range leads {
		tw.AppendRow(table.Row{l.ID, l.CompanyName, deref(l.Website), l.Status, l.VettingStatus, l.Score, deref(l.RejectionReason)})
	}
	tw.Render()
	return nil
}

func leadShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				l, err := c.GetLead(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				l, err := a.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}

func leadCreateCmd() *cobra.Command {
	var company, website, region string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead awaiting vetting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				l, err := c.CreateLead(cmd.Context(), leadlinesdk.LeadInput{
					CompanyName: company,
					Website:     optionalString(website),
					Region:      optionalString(region),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				l, err := a.Engine.CreateLead(ctx, engine.LeadCreateOptions{
					CompanyName: company,
					Website:     optionalString(website),
					Region:      optionalString(region),
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&website, "website", "", "website URL")
	cmd.Flags().StringVar(&region, "region", "", "region")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func leadUpdateCmd() *cobra.Command {
	var (
		company, website, region, status, vetting, painPoints string
		score, version                                        int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update lead fields",
		Long:  "Only flags that are passed are changed. --version makes the update fail if the lead changed meanwhile.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			pick := func(name, v string) *string {
				if flags.Changed(name) {
					return &v
				}
				return nil
			}
			var pain map[string]any
			if flags.Changed("pain-points") {
				raw, err := readJSONArg(painPoints)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &pain); err != nil {
					return fmt.Errorf("pain points must be a JSON object: %w", err)
				}
			}
			var scorePtr *int
			if flags.Changed("score") {
				scorePtr = &score
			}
			if c := remoteClient(); c != nil {
				in := leadlinesdk.LeadUpdate{
					CompanyName:   pick("company", company),
					Website:       pick("website", website),
					Region:        pick("region", region),
					Status:        pick("status", status),
					VettingStatus: pick("vetting", vetting),
					PainPoints:    pain,
					Score:         scorePtr,
				}
				if flags.Changed("version") {
					in.Version = &version
				}
				l, err := c.UpdateLead(cmd.Context(), args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				l, err := a.Engine.UpdateLead(ctx, engine.LeadUpdateOptions{
					ID:            args[0],
					CompanyName:   pick("company", company),
					Website:       pick("website", website),
					Region:        pick("region", region),
					Status:        pick("status", status),
					VettingStatus: pick("vetting", vetting),
					PainPoints:    pain,
					Score:         scorePtr,
					ExpectVersion: version,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&website, "website", "", "website URL")
	cmd.Flags().StringVar(&region, "region", "", "region")
	cmd.Flags().StringVar(&status, "status", "", "pipeline status")
	cmd.Flags().StringVar(&vetting, "vetting", "", "vetting status")
	cmd.Flags().StringVar(&painPoints, "pain-points", "", "pain points JSON object or @file")
	cmd.Flags().IntVar(&score, "score", 0, "score 0-100")
	cmd.Flags().IntVar(&version, "version", 0, "expected current version")
	return cmd
}

func leadDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				return c.DeleteLead(cmd.Context(), args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteLead(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func leadDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Ask the workflow engine to start lead discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				res, err := c.Discover(cmd.Context())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Engine.TriggerDiscovery(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"status": "success", "data": data})
			})
		},
	}
}

func leadReviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <id>",
		Short: "Ask the workflow engine to mine reviews for a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				res, err := c.Reviews(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.TriggerReviews(ctx, args[0]); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"status": "success", "lead_id": args[0]})
			})
		},
	}
}

func leadEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show a lead's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var evts []domain.LeadEvent
			if c := remoteClient(); c != nil {
				items, err := c.LeadEvents(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				for _, e := range items {
					evts = append(evts, domain.LeadEvent(e))
				}
			} else {
				err := withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					var err error
					evts, err = a.Engine.LeadEvents(ctx, args[0], limit)
					return err
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(evts)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
			for _, e := range evts {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ActorID, e.Payload})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Feed discovered leads from a JSON file to the discovery agent",
		Long:  `The file holds either a JSON array of leads or an object {"leads": [...]}.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			leads, err := readLeadsFile(args[0])
			if err != nil {
				return err
			}
			if c := remoteClient(); c != nil {
				res, err := c.Ingest(cmd.Context(), leads)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			}
			input, err := json.Marshal(map[string]any{"leads": leads})
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.RunNow(ctx, string(agent.KindDiscovery), input)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func readLeadsFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Leads []map[string]any `json:"leads"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: expected a JSON array of leads or {\"leads\": [...]}: %w", path, err)
	}
	if wrapped.Leads == nil {
		return nil, errors.New(path + ": no leads found")
	}
	return wrapped.Leads, nil
}
