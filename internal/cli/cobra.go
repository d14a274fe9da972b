package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"tilereg/pkg/config"
	"tilereg/pkg/store"
	"tilereg/pkg/synth"
)

// Version is the tool version reported by the version command.
var Version = "0.1.0-dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd() *cobra.Command {
	root := NewRoot()
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "tilereg",
		Short: "tilereg registers multi-cycle tiled microscopy acquisitions",
		Long: `tilereg corrects the stage positions of overlapping image tiles by phase
correlation, resolves them into a consistent layout and aligns every imaging
cycle to the first one. Registered cycles can be written as mosaics, layout
previews and an SQLite record of every tile position.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.setup(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&root.cfgPath, "config", "c", "tilereg.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	rootCmd.AddCommand(newAlignCmd(root))
	rootCmd.AddCommand(newPositionsCmd(root))
	rootCmd.AddCommand(newSynthCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newAlignCmd(root *Root) *cobra.Command {
	var (
		maxShift    float64
		channel     int
		region      string
		shiftPolicy string
		refine      bool
		output      string
		blend       string
		noMosaic    bool
		previewDir  string
		db          string
		workers     int
		cacheSize   int
	)

	cmd := &cobra.Command{
		Use:   "align <cycle0_manifest> [cycleN_manifest...]",
		Short: "Register tiles and align cycles",
		Long: `Register every cycle described by the manifests. The first manifest is the
reference cycle; every further cycle is aligned directly against it.
Flags override the matching configuration values.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg := root.cfg
			if flags.Changed("max-shift") {
				cfg.Registration.MaxShift = maxShift
			}
			if flags.Changed("channel") {
				cfg.Registration.AlignChannel = channel
			}
			if flags.Changed("region") {
				cfg.Cycle.Region = region
			}
			if flags.Changed("shift-policy") {
				cfg.Cycle.ShiftPolicy = shiftPolicy
			}
			if flags.Changed("refine") {
				cfg.Cycle.RefineTiles = refine
			}
			if flags.Changed("workers") {
				cfg.Registration.NumWorkers = workers
			}
			if output != "" {
				cfg.Mosaic.OutputDir = output
			}
			if blend != "" {
				cfg.Mosaic.Blend = blend
			}
			if noMosaic {
				cfg.Mosaic.Enabled = false
			}
			if previewDir != "" {
				cfg.Preview.Enabled = true
				cfg.Preview.Dir = previewDir
			}
			if db != "" {
				cfg.Storage.Database = db
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return root.runAlign(cmd.OutOrStdout(), args, alignOptions{cacheSize: cacheSize})
		},
	}

	cmd.Flags().Float64Var(&maxShift, "max-shift", 0, "largest trusted correction in microns")
	cmd.Flags().IntVar(&channel, "channel", 0, "channel used for correlation")
	cmd.Flags().StringVar(&region, "region", "", "cross-cycle region (full|center)")
	cmd.Flags().StringVar(&shiftPolicy, "shift-policy", "", "handling of excessive cycle shifts (reject|clamp)")
	cmd.Flags().BoolVar(&refine, "refine", false, "refine every tile against the reference mosaic")
	cmd.Flags().StringVarP(&output, "output", "o", "", "mosaic output directory")
	cmd.Flags().StringVar(&blend, "blend", "", "mosaic blend mode (max|mean|overwrite)")
	cmd.Flags().BoolVar(&noMosaic, "no-mosaic", false, "skip writing mosaics")
	cmd.Flags().StringVar(&previewDir, "preview", "", "write layout previews to this directory")
	cmd.Flags().StringVar(&db, "db", "", "SQLite database receiving the run")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of correlation workers")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 0, "decoded planes kept per cycle (0 uses the default)")

	return cmd
}

func newPositionsCmd(root *Root) *cobra.Command {
	var cycle int

	cmd := &cobra.Command{
		Use:   "positions <database> [run_id]",
		Short: "Show stored tile positions",
		Long:  `Print the tile positions of a stored run, the latest one when no run id is given.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.New(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var runID string
			if len(args) > 1 {
				runID = args[1]
			} else {
				runs, err := s.Runs(1)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs in %s: %w", args[0], store.ErrRunNotFound)
				}
				runID = runs[0].ID
			}
			root.log.Debug("showing positions", "run", runID, "cycle", cycle)
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s\n", runID)
			return printPositions(cmd.OutOrStdout(), s, runID, cycle)
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", -1, "only show this cycle")
	return cmd
}

func newSynthCmd(root *Root) *cobra.Command {
	opts := synth.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "synth <output_directory>",
		Short: "Generate a synthetic multi-cycle acquisition",
		Long: `Write a random specimen imaged on a tile grid over several cycles, with stage
errors on every tile and a drift on every cycle after the first. The printed
manifests can be passed straight to align.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := synth.Generate(args[0], opts)
			if err != nil {
				return err
			}
			root.log.Info("synthetic acquisition written", "dir", args[0], "cycles", len(ds.Manifests))
			out := cmd.OutOrStdout()
			for i, m := range ds.Manifests {
				fmt.Fprintf(out, "%s drift (%.0f, %.0f)\n", m, ds.Drift[i].X, ds.Drift[i].Y)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Cols, "cols", opts.Cols, "tile columns")
	cmd.Flags().IntVar(&opts.Rows, "rows", opts.Rows, "tile rows")
	cmd.Flags().IntVar(&opts.Cycles, "cycles", opts.Cycles, "number of cycles")
	cmd.Flags().IntVar(&opts.Channels, "channels", opts.Channels, "channels per tile")
	cmd.Flags().IntVar(&opts.TileSize, "tile-size", opts.TileSize, "tile edge length in pixels")
	cmd.Flags().IntVar(&opts.Overlap, "overlap", opts.Overlap, "tile overlap in pixels")
	cmd.Flags().Float64Var(&opts.PixelSize, "pixel-size", opts.PixelSize, "pixel size in microns")
	cmd.Flags().IntVar(&opts.Jitter, "jitter", opts.Jitter, "largest stage error in pixels")
	cmd.Flags().IntVar(&opts.Drift, "drift", opts.Drift, "largest cycle drift in pixels")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.cfgPath
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tilereg v%s\n", Version)
			fmt.Fprintf(out, "Built with Go %s\n", runtime.Version())
			return nil
		},
	}
}
