package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shaiso/taskgraph/internal/config"
	"github.com/shaiso/taskgraph/internal/orchestrator"
	"github.com/shaiso/taskgraph/internal/scan"
	"github.com/shaiso/taskgraph/internal/telemetry"
	"github.com/shaiso/taskgraph/internal/weights"
)

// DefaultManifest — имя манифеста внутри сканируемой папки.
const DefaultManifest = ".taskgraph-manifest.json"

// scanReport — то, что scan выводит в stdout.
type scanReport struct {
	RunID    string        `json:"run_id"`
	Manifest string        `json:"manifest"`
	Files    int           `json:"files"`
	Hashed   int           `json:"hashed"`
	Reused   int           `json:"reused"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

func (r *scanReport) Headers() []string {
	return []string{"FILES", "HASHED", "REUSED", "ELAPSED"}
}

func (r *scanReport) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(r.Files),
		strconv.Itoa(r.Hashed),
		strconv.Itoa(r.Reused),
		r.Elapsed.Round(time.Millisecond).String(),
	}}
}

// NewScanCmd создаёт команду scan.
func NewScanCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Hash every file in a folder and write a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()

			root := args[0]
			if manifest == "" {
				manifest = filepath.Join(root, DefaultManifest)
			}

			report, err := runScan(cmd.Context(), cfg, root, manifest)
			if err != nil {
				return err
			}

			out.Note("Manifest written: %s", report.Manifest)
			return out.Print(report)
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "manifest path (default: <dir>/"+DefaultManifest+")")
	return cmd
}

func runScan(ctx context.Context, cfg *config.Config, root, manifest string) (*scanReport, error) {
	logger := newLogger(cfg)

	store, closeStore, err := openWeightStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		serveMetrics(metricsCtx, cfg.Metrics.Addr, reg, logger)
	}

	registry := NewRegistry()
	o := orchestrator.New(orchestrator.Config{
		Workers:        cfg.Workers,
		Registry:       registry,
		Launcher:       newLauncher(cfg, registry),
		Weights:        weights.Load(ctx, store, logger),
		BatchThreshold: cfg.BatchThreshold,
		ShmDir:         cfg.ShmDir,
		CheckDataDeps:  cfg.CheckDataDeps,
		Metrics:        metrics,
		Logger:         logger,
		LogLevel:       telemetry.ParseLevel(cfg.Log.Level),
	})

	start := time.Now()
	if err := o.Run(ctx, scan.Tasks(root, manifest)); err != nil {
		return nil, err
	}

	n, ok := o.Graph().Node(scan.ManifestTask)
	if !ok {
		return nil, fmt.Errorf("task %s missing from graph", scan.ManifestTask)
	}
	summary, ok := n.Output.(scan.Summary)
	if !ok {
		return nil, fmt.Errorf("task %s returned %T", scan.ManifestTask, n.Output)
	}

	return &scanReport{
		RunID:    o.RunID(),
		Manifest: manifest,
		Files:    summary.Files,
		Hashed:   summary.Hashed,
		Reused:   summary.Reused,
		Elapsed:  time.Since(start),
	}, nil
}
