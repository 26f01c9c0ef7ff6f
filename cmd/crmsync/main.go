package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/config"
	jsonpool "github.com/ajitpratap0/crmsync/pkg/json"
	"github.com/ajitpratap0/crmsync/pkg/logger"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/observability"
	"github.com/ajitpratap0/crmsync/pkg/service"
)

var version = "0.1.0"

// globalFlags are shared by every command that talks to the CRM.
type globalFlags struct {
	configFile string
	logLevel   string
	metrics    bool
	timeout    time.Duration
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "crmsync",
		Short: "crmsync - CRM metadata discovery and bulk extraction",
		Long: `crmsync discovers the objects and reports of a CRM account and
extracts their rows as normalized records.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.metrics, "enable-metrics", false, "Serve Prometheus metrics while the command runs")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Minute, "Command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crmsync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var nameFilter string
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the exportable objects and reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(flags, func(ctx context.Context, svc *service.Service, creds models.Credentials) error {
				datasets, err := svc.BuildCatalog(ctx, creds, nameFilter)
				if err != nil {
					return err
				}
				return printJSON(catalogView(datasets))
			})
		},
	}
	catalogCmd.Flags().StringVar(&nameFilter, "filter", "", "Object name (exact) or report name (substring) to restrict discovery to")
	root.AddCommand(catalogCmd)

	var object, reportID string
	var limit, offset int
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Extract the rows of an object or report",
		Long: `Extract the rows of an object or a report as JSON lines.

Example:
  crmsync fetch --object Account --limit 1000
  crmsync fetch --object Lead --limit 50 --offset 100
  crmsync fetch --report 00O5g000004ABCD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ds models.Dataset
			switch {
			case object != "" && reportID != "":
				return fmt.Errorf("--object and --report are mutually exclusive")
			case object != "":
				ds = &models.ObjectDataset{Name: object}
			case reportID != "":
				ds = &models.ReportDataset{ID: reportID}
			default:
				return fmt.Errorf("one of --object or --report is required")
			}
			return withService(flags, func(ctx context.Context, svc *service.Service, creds models.Credentials) error {
				records, err := svc.FetchRecords(ctx, creds, ds, limit, offset)
				if err != nil {
					return err
				}
				for _, r := range records {
					if err := jsonpool.MarshalToWriter(os.Stdout, r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	fetchCmd.Flags().StringVar(&object, "object", "", "Object to extract")
	fetchCmd.Flags().StringVar(&reportID, "report", "", "Report ID to extract")
	fetchCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows (0 = all)")
	fetchCmd.Flags().IntVar(&offset, "offset", 0, "Row offset; a positive offset uses a windowed query instead of the bulk API")
	root.AddCommand(fetchCmd)

	var getObject, getID string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a single row by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(flags, func(ctx context.Context, svc *service.Service, creds models.Credentials) error {
				rec, err := svc.GetObject(ctx, creds, getObject, getID)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	getCmd.Flags().StringVar(&getObject, "object", "", "Object name (required)")
	getCmd.Flags().StringVar(&getID, "id", "", "Row ID (required)")
	_ = getCmd.MarkFlagRequired("object")
	_ = getCmd.MarkFlagRequired("id")
	root.AddCommand(getCmd)

	root.AddCommand(&cobra.Command{
		Use:   "test-connection",
		Short: "Verify that the configured credentials can reach the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(flags, func(ctx context.Context, svc *service.Service, creds models.Credentials) error {
				if err := svc.TestConnection(ctx, creds); err != nil {
					return err
				}
				fmt.Println("connection ok")
				return nil
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when given and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg := config.NewConfig()
	if flags.configFile != "" {
		loaded, err := config.Load(flags.configFile)
		if err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
		cfg = loaded
	}
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}
	if flags.metrics {
		cfg.Observability.EnableMetrics = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withService sets up logging, tracing and metrics, runs fn and tears everything down.
func withService(flags *globalFlags, fn func(ctx context.Context, svc *service.Service, creds models.Credentials) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "crmsync-cli"))

	tracing := observability.DefaultTracingConfig()
	tracing.Enabled = cfg.Observability.EnableTracing
	tracing.ServiceVersion = version
	tracing.Writer = os.Stderr
	shutdownTracing, err := observability.Init(tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.Observability.EnableMetrics {
		srv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
		log.Info("serving metrics", zap.String("addr", cfg.Observability.MetricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	svc := service.New(cfg, nil, logger.Get())
	runErr := fn(ctx, svc, cfg.CRM.Credentials)

	// cleanup must outlive a cancelled command context
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cleanupCancel()
	if err := svc.Close(cleanupCtx); err != nil {
		log.Warn("failed to close connectors", zap.Error(err))
	}
	if err := shutdownTracing(cleanupCtx); err != nil {
		log.Warn("failed to flush traces", zap.Error(err))
	}
	return runErr
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type datasetView struct {
	Kind        string            `json:"kind"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Label       string            `json:"label,omitempty"`
	Format      string            `json:"format,omitempty"`
	Rows        int64             `json:"rows"`
	PrimaryKeys []string          `json:"primary_keys,omitempty"`
	ForeignKeys map[string]string `json:"foreign_keys,omitempty"`
	Columns     []models.Column   `json:"columns"`
}

func catalogView(datasets []models.Dataset) []datasetView {
	out := make([]datasetView, 0, len(datasets))
	for _, ds := range datasets {
		v := datasetView{
			Kind:    string(ds.Kind()),
			Name:    ds.DisplayName(),
			Rows:    ds.Rows(),
			Columns: ds.Schema(),
		}
		switch d := ds.(type) {
		case *models.ObjectDataset:
			v.Label = d.Label
			v.PrimaryKeys = d.PrimaryKeys
			v.ForeignKeys = d.ForeignKeys
		case *models.ReportDataset:
			v.ID = d.ID
			v.Format = string(d.Format)
		}
		out = append(out, v)
	}
	return out
}

func printJSON(v interface{}) error {
	data, err := jsonpool.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
