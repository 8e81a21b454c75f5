// Command ontologyd is an administrative CLI over the Ontology
// Service's core: mint syn_ids, create entities, resolve mentions, and
// inspect the quarantine queue. It is a thin cobra wrapper over
// internal/ontology.Service, not the HTTP/JSON surface that is
// out of scope — grounded on cmd/bd's cobra-root-plus-subcommand shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/skywalkerx28/nexus/internal/cache"
	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/config"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontology"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/store/memory"
	"github.com/skywalkerx28/nexus/internal/store/postgres"
)

var (
	jsonOutput   bool
	useMemory    bool
	otelExporter string
	svc          *ontology.Service
)

func main() {
	root := &cobra.Command{
		Use:   "ontologyd",
		Short: "Administrative CLI for the Ontology Service core",
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&useMemory, "memory", false, "use an in-memory store instead of Postgres (no ONTOLOGY_DB_* needed)")
	root.PersistentFlags().StringVar(&otelExporter, "otel-exporter", "none", "tracing/metrics exporter: none or stdout")

	root.AddCommand(
		mintCmd(),
		entityCmd(),
		resolveCmd(),
		quarantineCmd(),
	)

	// Telemetry is set up once flags are parsed, so --otel-exporter is seen.
	telemetryShutdown := func(context.Context) error { return nil }
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		shutdown, err := setupTelemetry(cmd.Context())
		if err != nil {
			return err
		}
		telemetryShutdown = shutdown
		return nil
	}

	err := root.Execute()
	_ = telemetryShutdown(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupTelemetry wires the postgres backend's tracer/meter to a real
// exporter when requested; with the default "none" it leaves the
// global no-op providers in place so otel.Tracer/otel.Meter calls stay
// cheap when nothing downstream cares to read them.
func setupTelemetry(ctx context.Context) (func(context.Context) error, error) {
	if otelExporter != "stdout" {
		return func(context.Context) error { return nil }, nil
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}

// setup lazily builds the Service for a command, honoring --memory.
func setup(ctx context.Context) (*ontology.Service, func(), error) {
	if svc != nil {
		return svc, func() {}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var st store.Store
	if useMemory {
		st = memory.New()
	} else {
		pg, err := postgres.Open(ctx, postgres.Config{
			Host:             cfg.DBHost,
			Port:             cfg.DBPort,
			Database:         cfg.DBName,
			User:             cfg.DBUser,
			Password:         cfg.DBPassword,
			StatementTimeout: cfg.DBStatementTimeout,
			PoolMinConns:     cfg.DBPoolMin,
			PoolMaxConns:     cfg.DBPoolMax,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		st = pg
	}

	ch := cache.NewInProcess(cfg.CacheCapacity)
	minter := idgen.NewMinter()
	svc = ontology.New(st, ch, minter, clock.System{})
	return svc, func() { st.Close() }, nil
}

func printResult(v any) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}

func mintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint <type>",
		Short: "Mint a syn_id for the given entity type without persisting an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minter := idgen.NewMinter()
			synID, err := minter.Mint(idgen.EntityType(args[0]))
			if err != nil {
				return err
			}
			printResult(map[string]string{"syn_id": synID})
			return nil
		},
	}
	return cmd
}

func entityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "entity", Short: "Entity registry operations"}

	create := &cobra.Command{
		Use:   "create <type> <canonical-name>",
		Short: "Create a new entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			synID, err := s.CreateEntity(ctx, idgen.EntityType(args[0]), args[1], "")
			if err != nil {
				return err
			}
			printResult(map[string]string{"syn_id": synID})
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <syn-id>",
		Short: "Show an entity and its active identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			e, idents, err := s.GetEntity(ctx, args[0])
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("no entity %s", args[0])
			}
			printResult(map[string]any{"entity": e, "identifiers": idents})
			return nil
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func resolveCmd() *cobra.Command {
	var entityType string
	var quarantineOnFail bool

	cmd := &cobra.Command{
		Use:   "resolve <text>",
		Short: "Resolve a free-text mention via the resolver cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var typ *idgen.EntityType
			if entityType != "" {
				t := idgen.EntityType(entityType)
				typ = &t
			}

			if !quarantineOnFail {
				res, err := s.Resolve(ctx, args[0], typ, time.Time{})
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			}

			res, qid, err := s.ResolveOrQuarantine(ctx, args[0], typ, nil, time.Time{})
			if err != nil {
				return err
			}
			out := map[string]any{"result": res}
			if qid != 0 {
				out["quarantine_id"] = qid
			}
			printResult(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "restrict candidates to this entity type")
	cmd.Flags().BoolVar(&quarantineOnFail, "quarantine", false, "create a quarantine record on failed resolution")
	return cmd
}

func quarantineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "quarantine", Short: "Quarantine queue operations"}

	var resolved bool
	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List quarantine items",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			items, err := s.ListQuarantine(ctx, resolved, limit, offset)
			if err != nil {
				return err
			}
			printResult(items)
			return nil
		},
	}
	list.Flags().BoolVar(&resolved, "resolved", false, "list resolved instead of pending items")
	list.Flags().IntVar(&limit, "limit", 100, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	bind := &cobra.Command{
		Use:   "bind <id> <syn-id> <resolved-by>",
		Short: "Manually bind a quarantine item to a syn_id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid quarantine id %q", args[0])
			}
			if err := s.BindQuarantine(ctx, id, args[1], args[2]); err != nil {
				return err
			}
			printResult(map[string]string{"status": "bound"})
			return nil
		},
	}

	cmd.AddCommand(list, bind)
	return cmd
}
