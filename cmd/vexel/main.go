// Command vexel builds, serves, and browses HNSW approximate nearest
// neighbor indexes over flat vector files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/screenager/vexel/internal/hnsw"
	"github.com/screenager/vexel/internal/tui"
	"github.com/screenager/vexel/internal/vecio"
	"github.com/screenager/vexel/internal/watch"
)

var (
	defaultModel          = "./vexel.index"
	defaultMetric         = "l2"
	defaultM              = hnsw.DefaultM
	defaultM0             = hnsw.DefaultM0
	defaultEfConstruction = hnsw.DefaultEfConstruction
	defaultEfSearch       = hnsw.DefaultEfSearch
	defaultThreads        = 0
)

type fileConfig struct {
	Model          string `toml:"model"`
	Metric         string `toml:"metric"`
	M              int    `toml:"m"`
	M0             int    `toml:"m0"`
	EfConstruction int    `toml:"ef-construction"`
	EfSearch       int    `toml:"ef-search"`
	Threads        int    `toml:"threads"`
}

func main() {
	root := &cobra.Command{
		Use:   "vexel",
		Short: "Build and query HNSW approximate nearest-neighbor indexes",
		Long:  "vexel — a multi-threaded HNSW index over dense float32 vectors, with optional memory-mapped reads.",
	}

	if b, err := os.ReadFile(".vexel.toml"); err == nil {
		var cfg fileConfig
		if err := toml.Unmarshal(b, &cfg); err == nil {
			if cfg.Model != "" {
				defaultModel = cfg.Model
			}
			if cfg.Metric != "" {
				defaultMetric = cfg.Metric
			}
			if cfg.M > 0 {
				defaultM = cfg.M
			}
			if cfg.M0 > 0 {
				defaultM0 = cfg.M0
			}
			if cfg.EfConstruction > 0 {
				defaultEfConstruction = cfg.EfConstruction
			}
			if cfg.EfSearch > 0 {
				defaultEfSearch = cfg.EfSearch
			}
			if cfg.Threads > 0 {
				defaultThreads = cfg.Threads
			}
		}
	}

	var modelPath string
	var metricFlag string
	var dim int
	var mFlag, m0Flag, efcFlag, efsFlag, threadsFlag int
	var useMmap bool

	root.PersistentFlags().StringVar(&modelPath, "model", defaultModel, "path to the serialized index file")
	root.PersistentFlags().StringVar(&metricFlag, "metric", defaultMetric, "distance metric: l2, angular, or dot")
	root.PersistentFlags().IntVar(&dim, "dim", 0, "vector dimension (required to build; validated on load)")
	root.PersistentFlags().IntVar(&mFlag, "m", defaultM, "max neighbors per node above layer 0")
	root.PersistentFlags().IntVar(&m0Flag, "m0", defaultM0, "max neighbors per node at layer 0")
	root.PersistentFlags().IntVar(&efcFlag, "ef-construction", defaultEfConstruction, "beam width during build")
	root.PersistentFlags().IntVar(&efsFlag, "ef-search", defaultEfSearch, "default beam width during search")
	root.PersistentFlags().IntVar(&threadsFlag, "threads", defaultThreads, "worker count (0 = 1)")
	root.PersistentFlags().BoolVar(&useMmap, "mmap", false, "serve queries from a memory-mapped model instead of a full copy")

	loadSealed := func() (*hnsw.Graph, error) {
		fmt.Fprint(os.Stderr, "Loading index… ")
		g, err := hnsw.Load(modelPath, dim, useMmap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "")
			return nil, err
		}
		g.SetEfSearch(efsFlag)
		fmt.Fprintf(os.Stderr, "ready (%d points, dim=%d, metric=%s).\n", g.Len(), g.Dim(), g.Metric())
		return g, nil
	}

	ingestFiles := func(g *hnsw.Graph, paths []string, prog func(path string, n int)) error {
		for _, path := range paths {
			r, err := vecio.Open(path, vecio.DetectFormat(path), g.Dim())
			if err != nil {
				return err
			}
			n := 0
			for {
				v, err := r.Next()
				if err != nil {
					if errorIsEOF(err) {
						break
					}
					r.Close()
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := g.AddData(v); err != nil {
					r.Close()
					return fmt.Errorf("%s: %w", path, err)
				}
				n++
			}
			r.Close()
			if prog != nil {
				prog(path, n)
			}
		}
		return nil
	}

	// ---- vexel build <file...> ---------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "build <vecfile> [vecfile...]",
		Short: "Ingest one or more vector files, build, and save the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dim <= 0 {
				return fmt.Errorf("build: --dim is required")
			}
			metric, ok := hnsw.ParseMetric(metricFlag)
			if !ok {
				return fmt.Errorf("build: unknown metric %q", metricFlag)
			}
			g, err := hnsw.New(dim, metric)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Ingesting %d file(s)…\n", len(args))
			if err := ingestFiles(g, args, func(path string, n int) {
				fmt.Fprintf(os.Stderr, "  %s: %d vectors\n", path, n)
			}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Building (%d points, M=%d, M0=%d, efConstruction=%d, threads=%d)…\n",
				g.Len(), mFlag, m0Flag, efcFlag, threadsOrOne(threadsFlag))
			if err := g.Build(hnsw.BuildOptions{
				M: mFlag, M0: m0Flag, EfConstruction: efcFlag, NThreads: threadsOrOne(threadsFlag),
			}); err != nil {
				return err
			}
			if err := g.Save(modelPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Done. %d points saved to %s.\n", g.Len(), modelPath)
			return nil
		},
	})

	// ---- vexel query --------------------------------------------------------
	var queryID int64
	var queryVec string
	var k int
	var ef int
	var jsonOut bool
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Search for the nearest neighbors of a point id or a raw vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadSealed()
			if err != nil {
				return err
			}
			defer g.Close()

			var results []hnsw.Result
			switch {
			case queryVec != "":
				v, perr := parseVector(queryVec)
				if perr != nil {
					return perr
				}
				results, err = g.SearchByVector(v, k, ef)
			case queryID >= 0:
				results, err = g.SearchByID(uint32(queryID), k, ef)
			default:
				return fmt.Errorf("query: one of --id or --vector is required")
			}
			if err != nil {
				return err
			}
			return printResults(results, jsonOut)
		},
	}
	queryCmd.Flags().Int64Var(&queryID, "id", -1, "query by the id of an indexed point")
	queryCmd.Flags().StringVar(&queryVec, "vector", "", "query by a literal comma-separated vector")
	queryCmd.Flags().IntVar(&k, "k", 10, "number of neighbors to return")
	queryCmd.Flags().IntVar(&ef, "ef", 0, "beam width for this query (0 = --ef-search default)")
	queryCmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	root.AddCommand(queryCmd)

	// ---- vexel batch-query --------------------------------------------------
	batchCmd := &cobra.Command{
		Use:   "batch-query <vecfile>",
		Short: "Run one query per vector in a file, concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadSealed()
			if err != nil {
				return err
			}
			defer g.Close()

			r, err := vecio.Open(args[0], vecio.DetectFormat(args[0]), g.Dim())
			if err != nil {
				return err
			}
			defer r.Close()
			queries, err := vecio.ReadAll(r)
			if err != nil {
				return err
			}

			all, err := g.BatchSearch(queries, k, ef, threadsOrOne(threadsFlag))
			if err != nil {
				return err
			}
			for i, results := range all {
				fmt.Printf("query %d:\n", i)
				if err := printResults(results, jsonOut); err != nil {
					return err
				}
			}
			return nil
		},
	}
	batchCmd.Flags().IntVar(&k, "k", 10, "number of neighbors to return")
	batchCmd.Flags().IntVar(&ef, "ef", 0, "beam width for every query (0 = --ef-search default)")
	batchCmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	root.AddCommand(batchCmd)

	// ---- vexel stats ---------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print basic index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadSealed()
			if err != nil {
				return err
			}
			defer g.Close()
			fmt.Printf("points:  %d\n", g.Len())
			fmt.Printf("dim:     %d\n", g.Dim())
			fmt.Printf("metric:  %s\n", g.Metric())
			return nil
		},
	})

	// ---- vexel watch <dir> ---------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory for new vector files, then build and save on interrupt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dim <= 0 {
				return fmt.Errorf("watch: --dim is required")
			}
			metric, ok := hnsw.ParseMetric(metricFlag)
			if !ok {
				return fmt.Errorf("watch: unknown metric %q", metricFlag)
			}
			g, err := hnsw.New(dim, metric)
			if err != nil {
				return err
			}

			w, err := watch.New(g)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			done := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(done)
			}()

			fmt.Fprintf(os.Stderr, "Watching %s for .fvecs/.jsonl files… (Ctrl+C to build and save)\n", args[0])
			if err := w.Watch(args[0], done); err != nil {
				return err
			}

			if g.Len() == 0 {
				fmt.Fprintln(os.Stderr, "No points ingested — nothing to build.")
				return nil
			}
			fmt.Fprintf(os.Stderr, "Building %d points…\n", g.Len())
			if err := g.Build(hnsw.BuildOptions{
				M: mFlag, M0: m0Flag, EfConstruction: efcFlag, NThreads: threadsOrOne(threadsFlag),
			}); err != nil {
				return err
			}
			if err := g.Save(modelPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved %d points to %s.\n", g.Len(), modelPath)
			return nil
		},
	})

	// ---- vexel tui -------------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive nearest-neighbor browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadSealed()
			if err != nil {
				return err
			}
			defer g.Close()

			m := tui.New(g, efsFlag)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func threadsOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func errorIsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("bad vector component %q: %w", p, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func printResults(results []hnsw.Result, asJSON bool) error {
	if asJSON {
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	for i, r := range results {
		fmt.Printf("%3d  %10.6f  #%d\n", i+1, r.Distance, r.ID)
	}
	return nil
}
