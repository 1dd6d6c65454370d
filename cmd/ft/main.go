package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fiotrack/internal/app"
	"fiotrack/internal/config"
	"fiotrack/internal/db"
	"fiotrack/internal/domain"
	"fiotrack/internal/engine"
	"fiotrack/internal/migrate"
	"fiotrack/internal/repo"
	"fiotrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ft",
	Short: "FioTrack CLI",
	Long: `FioTrack tracks textile production orders across the plant pipeline.
Concepts:
- Workspace: the .fiotrack directory holding the database; plant config lives in the DB and is imported from fiotrack.yml.
- Sectors: the six fixed pipeline stages (tecelagem, felpo_cru, tinturaria, confeccao, embalagem, expedicao).
- Orders: client demand lines imported from the ERP; per-sector quantities show what each stage already produced.
- Capacity rules: pieces-per-hour assertions per sector, optionally narrowed by article attributes; the most specific rule wins.
- Predicted dates: manual completion estimates per sector; editing one shifts every downstream date and marks it pending until validated.
- Event log: diary of changes, view with 'ft log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIOTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("plant", "", "plant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("plant", rootCmd.PersistentFlags().Lookup("plant"))
}

func registerCommands() {
	rootCmd.AddCommand(sectorsCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func sectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sectors",
		Short: "List pipeline sectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sectors := domain.Sectors()
				if viper.GetBool("json") {
					return printJSON(sectors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Name"})
				for _, s := range sectors {
					tw.AppendRow(table.Row{s.OrderIndex, s.ID, e.Config.SectorName(s.ID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage production orders",
		Long:  "Orders are imported demand lines. Each sector records what it produced; predicted dates and notes are edited per sector.",
	}
	order.AddCommand(orderImportCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderCapacityCmd())
	order.AddCommand(orderSetPredictedCmd())
	order.AddCommand(orderValidateCmd())
	order.AddCommand(orderObserveCmd())
	order.AddCommand(orderStopReasonCmd())
	order.AddCommand(orderPriorityCmd())
	order.AddCommand(orderArchiveCmd())
	order.AddCommand(orderResetCmd())
	return order
}

func orderImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import orders from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var orders []domain.Order
			if err := json.Unmarshal(data, &orders); err != nil {
				return fmt.Errorf("parse %s: %w", filePath, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ImportOrders(ctx, orders, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d orders\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON orders file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orders, err := r.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Doc", "Item", "Client", "Article", "Qty", "Requested", "Prio"})
				for _, o := range orders {
					tw.AppendRow(table.Row{o.ID, o.DocNr, o.ItemNr, o.ClientName, o.ArticleCode, o.QtyRequested, fmtDate(o.RequestedDate), o.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DocNr, "doc", "", "document number filter")
	cmd.Flags().StringVar(&f.ClientCode, "client", "", "client code filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived orders")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderCapacityCmd() *cobra.Command {
	var sectorID string
	cmd := &cobra.Command{
		Use:   "capacity <order-id>",
		Short: "Capacity estimate for an order at a sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				info, err := e.OrderCapacity(ctx, args[0], domain.SectorID(sectorID))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Printf("Order %s at %s\n", info.OrderID, info.SectorID)
				fmt.Printf("  produced:  %.0f\n", info.ProducedQty)
				fmt.Printf("  remaining: %.0f\n", info.RemainingQty)
				if info.Rule != nil {
					fmt.Printf("  rule:      %s (%.1f pcs/h x %.1f h/day)\n", ruleLabel(*info.Rule), info.Rule.PiecesPerHour, info.Rule.HoursPerDay)
				} else {
					fmt.Println("  rule:      none")
				}
				if info.EstimatedCompletionDate != nil {
					fmt.Printf("  estimate:  %d working day(s), done %s\n", info.EstimatedDays, info.EstimatedCompletionDate.Format("2006-01-02"))
				}
				if info.IsAtRisk {
					fmt.Printf("  AT RISK:   %d day(s) past requested date\n", info.DaysLate)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func orderSetPredictedCmd() *cobra.Command {
	var sectorID, dateStr string
	var clear bool
	cmd := &cobra.Command{
		Use:   "set-predicted <order-id>",
		Short: "Set or clear a predicted date, cascading downstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var date *time.Time
			if !clear {
				if dateStr == "" {
					return fmt.Errorf("--date or --clear required")
				}
				t, err := parseDateFlag(dateStr)
				if err != nil {
					return err
				}
				date = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.SetPredictedDate(ctx, args[0], domain.SectorID(sectorID), date, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printPredicted(o, e)
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&dateStr, "date", "", "predicted date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the predicted date")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func orderValidateCmd() *cobra.Command {
	var sectorID string
	cmd := &cobra.Command{
		Use:   "validate <order-id>",
		Short: "Confirm an auto-shifted predicted date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.ValidatePredictedDate(ctx, args[0], domain.SectorID(sectorID), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printPredicted(o, e)
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func orderObserveCmd() *cobra.Command {
	var sectorID, text string
	cmd := &cobra.Command{
		Use:   "observe <order-id>",
		Short: "Set a sector observation (empty text clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateSector(ctx, engine.SectorEditOptions{
					OrderID:     args[0],
					SectorID:    domain.SectorID(sectorID),
					Observation: &text,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&text, "text", "", "observation text")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func orderStopReasonCmd() *cobra.Command {
	var sectorID, text string
	cmd := &cobra.Command{
		Use:   "stop-reason <order-id>",
		Short: "Set a sector stop reason (empty text clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateSector(ctx, engine.SectorEditOptions{
					OrderID:    args[0],
					SectorID:   domain.SectorID(sectorID),
					StopReason: &text,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&text, "text", "", "stop reason text")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func orderPriorityCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "priority <doc-nr>",
		Short: "Set priority for every item of a document (0 none, 1 high, 2 medium, 3 low)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SetPriority(ctx, args[0], priority, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Updated %d item(s) of %s\n", n, args[0])
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "priority level")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func orderArchiveCmd() *cobra.Command {
	var unarchive bool
	cmd := &cobra.Command{
		Use:   "archive <order-id>",
		Short: "Archive an order (or restore with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.SetArchived(ctx, args[0], !unarchive, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().BoolVar(&unarchive, "undo", false, "restore instead of archive")
	return cmd
}

func orderResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all orders without --yes")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ResetOrders(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d orders\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage capacity rules",
		Long:  "Capacity rules assert how many pieces per hour a sector produces. Blank filters are wildcards; the most specific matching rule wins.",
	}
	rule.AddCommand(ruleAddCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

func ruleFlags(cmd *cobra.Command, opts *engine.RuleOptions) {
	var sector string
	cmd.Flags().StringVar(&sector, "sector", "", "sector id")
	cmd.Flags().StringVar(&opts.Label, "label", "", "display label")
	cmd.Flags().StringVar(&opts.ArticleCode, "article", "", "article code filter")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "reference filter")
	cmd.Flags().StringVar(&opts.Family, "family", "", "family filter")
	cmd.Flags().StringVar(&opts.ColorCode, "color", "", "color code filter")
	cmd.Flags().StringVar(&opts.Size, "size", "", "size filter")
	cmd.Flags().Float64Var(&opts.PiecesPerHour, "pph", 0, "pieces per hour")
	cmd.Flags().Float64Var(&opts.HoursPerDay, "hpd", 0, "hours per day (defaults from config)")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		opts.SectorID = domain.SectorID(sector)
		return nil
	}
}

func ruleAddCmd() *cobra.Command {
	var opts engine.RuleOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a capacity rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	ruleFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("sector")
	_ = cmd.MarkFlagRequired("pph")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var sectorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capacity rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rules, err := r.ListRules(ctx, domain.SectorID(sectorID))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Sector", "Label", "Article", "Ref", "Family", "Color", "Size", "Pcs/h", "H/day"})
				for _, rule := range rules {
					tw.AppendRow(table.Row{rule.ID, rule.SectorID, rule.Label,
						rule.ArticleCode, rule.Reference, rule.Family, rule.ColorCode, rule.Size,
						rule.PiecesPerHour, rule.HoursPerDay})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id filter")
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var opts engine.RuleOptions
	cmd := &cobra.Command{
		Use:   "update <rule-id>",
		Short: "Update a capacity rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.UpdateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	ruleFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a capacity rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Production reports"}
	report.AddCommand(reportQueueCmd())
	report.AddCommand(reportRiskCmd())
	report.AddCommand(reportKPIsCmd())
	return report
}

func reportQueueCmd() *cobra.Command {
	var sectorID string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Orders with remaining work at a sector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				queue, err := e.SectorQueue(ctx, domain.SectorID(sectorID))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(queue)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Doc", "Item", "Client", "Remaining", "Days", "Done by", "Prio", "Risk"})
				for _, q := range queue {
					risk := ""
					if q.Info.IsAtRisk {
						risk = fmt.Sprintf("+%dd", q.Info.DaysLate)
					}
					tw.AppendRow(table.Row{q.Order.DocNr, q.Order.ItemNr, q.Order.ClientName,
						q.Info.RemainingQty, q.Info.EstimatedDays, fmtDate(q.Info.EstimatedCompletionDate),
						q.Order.Priority, risk})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func reportRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Orders estimated to miss their requested date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				risks, err := e.AtRiskOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(risks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Doc", "Item", "Sector", "Client", "Requested", "Done by", "Late"})
				for _, r := range risks {
					tw.AppendRow(table.Row{r.Order.DocNr, r.Order.ItemNr, r.SectorID, r.Order.ClientName,
						fmtDate(r.Order.RequestedDate), fmtDate(r.Info.EstimatedCompletionDate),
						fmt.Sprintf("%dd", r.Info.DaysLate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportKPIsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Dashboard headline numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kpis, err := e.DashboardKPIs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(kpis)
				}
				fmt.Printf("Active orders:     %d (%d documents)\n", kpis.ActiveOrders, kpis.ActiveDocs)
				fmt.Printf("At risk:           %d\n", kpis.AtRiskOrders)
				fmt.Printf("Due within window: %d\n", kpis.DueWithinWindow)
				fmt.Printf("Qty requested:     %.0f\n", kpis.QtyRequested)
				fmt.Printf("Qty in stock:      %.0f\n", kpis.QtyInStock)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage plant config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show plant config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import plant config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			plantID := cfg.Plant.ID
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertPlantConfig(ctx, plantID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var plantID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fiotrack.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(plantID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&plantID, "plant", "default", "plant id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("plant"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FIOTRACK_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FIOTRACK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving FioTrack API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("plant"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printPredicted(o domain.Order, e engine.Engine) error {
	if viper.GetBool("json") {
		return printJSON(o)
	}
	fmt.Printf("Order %s predicted dates:\n", o.ID)
	for _, s := range domain.Sectors() {
		d := o.PredictedDate(s.ID)
		if d == nil {
			continue
		}
		marker := ""
		if o.PredictedPending[s.ID] {
			marker = " (pending validation)"
		}
		fmt.Printf("  %-22s %s%s\n", e.Config.SectorName(s.ID), d.Format("2006-01-02"), marker)
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(v string) (*time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func ruleLabel(r domain.CapacityRule) string {
	if r.Label != "" {
		return r.Label
	}
	var parts []string
	for _, p := range []string{r.ArticleCode, r.Reference, r.Family, r.ColorCode, r.Size} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "sector default"
	}
	return strings.Join(parts, "/")
}
