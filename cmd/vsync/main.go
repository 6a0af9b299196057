package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"vedtaksync/internal/app"
	"vedtaksync/internal/clients"
	"vedtaksync/internal/config"
	"vedtaksync/internal/db"
	"vedtaksync/internal/engine"
	"vedtaksync/internal/leader"
	"vedtaksync/internal/mainframe"
	"vedtaksync/internal/metrics"
	"vedtaksync/internal/migrate"
	"vedtaksync/internal/mq"
	"vedtaksync/internal/publish"
	"vedtaksync/internal/repo"
	"vedtaksync/internal/scheduler"
	"vedtaksync/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vsync",
	Short: "Vedtaksync CLI",
	Long: `Vedtaksync keeps welfare decisions in sync with their downstream systems.
A decision is stored once, then converged independently toward the archive,
the task system, the notification bus, the status bus, and the legacy
mainframe channel. Each destination carries its own publication marker, so
a failure in one never blocks the others.`,
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
	viper.SetEnvPrefix("VEDTAKSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/vedtaksync.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(configCmd())
}

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(viper.GetString("workspace"), "vedtaksync.yml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run publishers, receipt consumer, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()

			logger := log.New(os.Stderr, "vsync ", log.LstdFlags)
			sink := metrics.MustOTel(otel.Meter("vedtaksync"))
			r := repo.Repo{DB: conn}
			e := app.BuildEngine(conn, cfg)

			outbound := mq.NewAMQP(cfg.Queue.URL, cfg.Queue.Outbound)
			inbound := mq.NewAMQP(cfg.Queue.URL, cfg.Queue.Inbound)
			defer outbound.Close()
			defer inbound.Close()

			timeout := cfg.Clients.Timeout.Std()
			archive := clients.NewHTTPArchive(cfg.Clients.Archive.BaseURL, timeout,
				cfg.Clients.Archive.Fallback, cfg.Clients.Archive.FallbackReference)
			tasks := clients.NewHTTPTask(cfg.Clients.Task.BaseURL, timeout)
			bus := clients.NewHTTPEventBus(cfg.Clients.EventBus.StatusURL, cfg.Clients.EventBus.NotificationURL, timeout)
			registry := clients.NewHTTPPersonRegistry(cfg.Clients.PersonRegistry.BaseURL, timeout)

			elector, err := newElector(cfg)
			if err != nil {
				return err
			}
			health := scheduler.NewHealth()
			sched := scheduler.New(elector, health, logger)

			interval := cfg.Scheduler.Interval.Std()
			delay := cfg.Scheduler.InitialDelay.Std()
			sched.AddJob(scheduler.PublisherJob(publish.Archive{Repo: r, Client: archive, Events: e.Events, Metrics: sink}, delay, interval, logger))
			sched.AddJob(scheduler.PublisherJob(publish.Task{Repo: r, Client: tasks, Events: e.Events, Metrics: sink}, delay, interval, logger))
			sched.AddJob(scheduler.PublisherJob(publish.Notify{Repo: r, Bus: bus, Events: e.Events, Metrics: sink}, delay, interval, logger))
			sched.AddJob(scheduler.PublisherJob(publish.Status{Repo: r, Bus: bus, Events: e.Events, Metrics: sink}, delay, interval, logger))
			sched.AddJob(scheduler.PublisherJob(publish.MainframeSend{
				Repo:       r,
				Registry:   registry,
				Sender:     mainframe.Sender{Queue: outbound, Metrics: sink},
				Events:     e.Events,
				Metrics:    sink,
				MinSendAge: cfg.Mainframe.MinSendAge.Std(),
			}, delay, interval, logger))

			consumer := &mainframe.Consumer{
				Queue:        inbound,
				Repo:         r,
				Elector:      elector,
				Events:       e.Events,
				Metrics:      sink,
				Logger:       logger,
				PollInterval: cfg.Queue.PollInterval.Std(),
			}
			sched.SetConsumer(consumer.Run)

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.Server.JWTSecret,
					AllowActorHeader: cfg.Server.JWTSecret == "",
					Logger:           logger,
				},
				Health: health,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return sched.Run(ctx)
			})
			g.Go(func() error {
				logger.Printf("serving API on %s%s", cfg.Server.Addr, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			health.SetReady()
			err = g.Wait()
			health.SetNotReady()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	return cmd
}

func newElector(cfg *config.Config) (leader.Elector, error) {
	if cfg.Elector.URL == "" {
		return leader.Static(true), nil
	}
	return leader.NewHTTP(cfg.Elector.URL)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", v)
			return nil
		},
	}
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Manage decisions",
	}
	dec.AddCommand(decisionCreateCmd())
	dec.AddCommand(decisionListCmd())
	dec.AddCommand(decisionShowCmd())
	dec.AddCommand(decisionCloseCmd())
	dec.AddCommand(decisionSyncCmd())
	dec.AddCommand(decisionLogCmd())
	return dec
}

func decisionCreateCmd() *cobra.Command {
	var subjectID, reasoning, validFrom, validTo string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse("2006-01-02", validFrom)
			if err != nil {
				return fmt.Errorf("--valid-from must be a date (YYYY-MM-DD)")
			}
			to, err := time.Parse("2006-01-02", validTo)
			if err != nil {
				return fmt.Errorf("--valid-to must be a date (YYYY-MM-DD)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Create(ctx, engine.CreateOptions{
					SubjectID:    subjectID,
					CaseWorkerID: viper.GetString("actor-id"),
					Reasoning:    reasoning,
					ValidFrom:    from,
					ValidTo:      to,
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(d)
			})
		},
	}
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "subject identifier")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "decision reasoning")
	cmd.Flags().StringVar(&validFrom, "valid-from", "", "valid from date")
	cmd.Flags().StringVar(&validTo, "valid-to", "", "valid to date")
	_ = cmd.MarkFlagRequired("subject-id")
	_ = cmd.MarkFlagRequired("valid-from")
	_ = cmd.MarkFlagRequired("valid-to")
	return cmd
}

func decisionListCmd() *cobra.Command {
	var subjectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions for a subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decisions, err := e.ListBySubject(ctx, subjectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(decisions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Mainframe", "Valid From", "Valid To", "Created"})
				for _, d := range decisions {
					tw.AppendRow(table.Row{
						d.ID,
						d.Status,
						d.MainframeStatus(),
						d.ValidFrom.Format("2006-01-02"),
						d.ValidTo.Format("2006-01-02"),
						d.CreatedAt.Format(time.RFC3339),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "subject identifier")
	_ = cmd.MarkFlagRequired("subject-id")
	return cmd
}

func decisionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid decision id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(d)
			})
		},
	}
	return cmd
}

func decisionCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid decision id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Close(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(d)
			})
		},
	}
	return cmd
}

func decisionSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Show per-destination convergence state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid decision id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.Sync(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(state)
			})
		},
	}
	return cmd
}

func decisionLogCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the audit trail for a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid decision id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, id, n)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(ctx, app.BuildEngine(conn, cfg))
}

func printJSONOrIndent(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
