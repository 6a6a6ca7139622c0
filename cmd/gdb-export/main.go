package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"gdb-export/pkg/config"
	"gdb-export/pkg/event"
	"gdb-export/pkg/gdbtable"
	"gdb-export/pkg/source"
	"gdb-export/pkg/xmlws"

	"go.uber.org/zap"
)

// recordWriter is the part of both writers the command reports on.
type recordWriter interface {
	event.Visitor
	RecordErrors() []*event.RecordError
	Skipped() int
}

func main() {
	inspect := flag.Bool("inspect", false, "print the tables of an existing package and exit")
	env_file := flag.String("env", "", "load settings from this file instead of ./.env")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-env file] <input.geojson|input.json> <output.xml|output.zip>\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(flag.CommandLine.Output(), "       %s -inspect <package.zip>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	var files []string
	if *env_file != "" {
		files = append(files, *env_file)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *inspect {
		if flag.NArg() != 1 {
			flag.Usage()
			os.Exit(2)
		}
		if err := printSummary(ctx, flag.Arg(0)); err != nil {
			logger.Error("inspect failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Arg(1)); err != nil {
		logger.Error("export failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, input, output string) (err error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var w recordWriter
	switch cfg.FormatFor(output) {
	case config.FormatXML:
		var opts xmlws.Options
		if opts, err = cfg.XMLOptions(ctx, logger); err != nil {
			return err
		}
		f, create_err := os.Create(output)
		if create_err != nil {
			return fmt.Errorf("failed to create output: %w", create_err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close output: %w", cerr)
			}
		}()
		if w, err = xmlws.New(f, opts); err != nil {
			return err
		}
	default:
		var opts gdbtable.Options
		if opts, err = cfg.TableOptions(ctx, logger); err != nil {
			return err
		}
		if w, err = gdbtable.New(output, opts); err != nil {
			return err
		}
	}

	root := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	src_opts := source.Options{Root: root, ContainerProperty: cfg.ContainerProperty}

	if replay_err := replay(data, w, src_opts); replay_err != nil {
		// Close still releases scratch state; its error is secondary.
		_ = w.Close()
		return fmt.Errorf("failed to replay %s: %w", input, replay_err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	for _, rec_err := range w.RecordErrors() {
		logger.Warn("record skipped", zap.String("dataset", rec_err.Dataset), zap.Int("index", rec_err.Index), zap.Error(rec_err.Err))
	}
	logger.Info("export finished",
		zap.String("output", output),
		zap.Int("record_errors", len(w.RecordErrors())),
		zap.Int("empty_geometries", w.Skipped()),
	)
	return nil
}

// replay picks the reader by document shape: a GeoJSON FeatureCollection
// carries a "type" member, an ESRI feature set does not.
func replay(data []byte, v event.Visitor, opts source.Options) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if probe.Type != "" {
		return source.ReplayGeoJSON(data, v, opts)
	}
	return source.ReplayEsriJSON(data, v, opts)
}

func printSummary(ctx context.Context, path string) error {
	summary, err := gdbtable.Inspect(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d tables, %d catalog items\n", summary.Name, len(summary.Tables), len(summary.Items))
	for _, table := range summary.Tables {
		fmt.Printf("  %-32s %8d rows  %s\n", table.Name, table.Rows, strings.Join(table.Columns, ", "))
	}
	return nil
}
