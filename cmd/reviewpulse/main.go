package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
	"github.com/TobiSchelling/reviewpulse/internal/pipeline"
	"github.com/TobiSchelling/reviewpulse/internal/report"
	"github.com/TobiSchelling/reviewpulse/internal/server"
	"github.com/TobiSchelling/reviewpulse/internal/syncer"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	log        *logger.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reviewpulse",
	Short:   "Aggregate and analyze product feedback",
	Long:    "reviewpulse pulls reviews and comments from app stores and social platforms into one place and summarizes what users praise and criticize.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		log, err = logger.New(level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reviewpulse", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/reviewpulse/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Export SERPAPI_API_KEY, APIFY_API_TOKEN and an LLM key, then add a project.")
		return nil
	},
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show projects, provider readiness, or one project's summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		if len(args) == 1 {
			p, err := db.FindProject(ctx, args[0])
			if err != nil {
				return err
			}
			sum, err := report.Build(ctx, db, p.ID, time.Now())
			if err != nil {
				return err
			}
			printSummary(sum)
			return nil
		}

		pipe, err := pipeline.New(cfg, db, logger.Nop())
		if err != nil {
			return err
		}
		if db.Driver() == database.DriverSQLite {
			fmt.Printf("Database: sqlite (%s)\n", db.Path())
		} else {
			fmt.Printf("Database: %s\n", db.Driver())
		}
		if v, dirty, err := db.SchemaVersion(); err == nil {
			if dirty {
				fmt.Printf("Schema:   v%d (dirty)\n\n", v)
			} else {
				fmt.Printf("Schema:   v%d\n\n", v)
			}
		} else {
			fmt.Println()
		}
		fmt.Println("Providers:")
		for _, st := range pipe.Stages() {
			icon := "x"
			if st.Ready {
				icon = "*"
			}
			fmt.Printf("  %s %-12s %s\n", icon, st.Name, st.Detail)
		}

		projects, err := db.ListProjects(ctx)
		if err != nil {
			return err
		}
		fmt.Println("\nProjects:")
		if len(projects) == 0 {
			fmt.Println("  none yet. Add one with: reviewpulse project add <name>")
		}
		for _, p := range projects {
			n, err := db.CountItems(ctx, p.ID)
			if err != nil {
				return err
			}
			state := ""
			if p.SyncInProgress {
				state = " (syncing)"
			}
			fmt.Printf("  %s  %s: %s items%s\n", p.ID, p.Name, humanize.Comma(int64(n)), state)
		}
		return nil
	},
}

func printSummary(s *report.Summary) {
	fmt.Printf("%s (%s)\n\n", s.Project.Name, s.Project.ID)
	fmt.Printf("Items: %s total, %d%% critical, %d%% positive\n",
		humanize.Comma(int64(s.Stats.TotalItems)), s.CriticalPercent(), s.PositivePercent())
	if s.Stats.LatestItemAt != nil {
		fmt.Printf("Newest item: %s\n", humanize.Time(*s.Stats.LatestItemAt))
	}

	fmt.Println("\nSources:")
	if len(s.Sources) == 0 {
		fmt.Println("  none. Add one with: reviewpulse source add <project> <platform> <target>")
	}
	for _, src := range s.Sources {
		last := "never synced"
		if src.LastSync != nil {
			last = "synced " + humanize.Time(*src.LastSync)
		}
		fmt.Printf("  [%s] %-11s %-7s %s, %s items\n", src.ID, src.Platform.DisplayName(), src.Status,
			last, humanize.Comma(int64(s.Stats.ByPlatform[src.Platform])))
	}

	fmt.Println("\nAnalysis:")
	if s.Analysis == nil {
		fmt.Println("  none yet")
		return
	}
	fmt.Printf("  Score %d/100, %s (%d analyses)\n", s.Analysis.Payload.Score,
		humanize.Time(s.Analysis.CreatedAt), s.Stats.AnalysisCount)
}

// --- project command ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectSources []string

var projectAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create a project, optionally with sources (--source platform=target)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var configs []feedback.SourceConfig
		for _, spec := range projectSources {
			platform, target, ok := strings.Cut(spec, "=")
			if !ok {
				return fmt.Errorf("invalid --source %q, want platform=target", spec)
			}
			sc, err := parseSource(platform, target)
			if err != nil {
				return err
			}
			configs = append(configs, sc)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		p, err := db.CreateProject(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s: %s\n", p.ID, p.Name)
		for _, sc := range configs {
			src, err := db.AddSource(ctx, p.ID, sc)
			if err != nil {
				return err
			}
			fmt.Printf("  added %s source %s\n", src.Platform.DisplayName(), src.ID)
		}
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with their sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		projects, err := db.ListProjects(ctx)
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects. Add one with: reviewpulse project add <name>")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %s (created %s)\n", p.ID, p.Name, humanize.Time(p.CreatedAt))
			srcs, err := db.GetSourcesForProject(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, src := range srcs {
				last := "never"
				if src.LastSync != nil {
					last = humanize.Time(*src.LastSync)
				}
				fmt.Printf("    [%s] %s %s, last sync %s\n", src.ID, src.Platform.DisplayName(), src.Status, last)
			}
		}
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove [project]",
	Short: "Delete a project with its sources, items and analyses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		p, err := db.FindProject(ctx, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteProject(ctx, p.ID); err != nil {
			return err
		}
		fmt.Printf("Removed project %s: %s\n", p.ID, p.Name)
		return nil
	},
}

func init() {
	projectAddCmd.Flags().StringArrayVarP(&projectSources, "source", "s", nil, "Source as platform=target, repeatable")
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRemoveCmd)
}

// --- source command ---

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage a project's sources",
}

var (
	sourceCountry  string
	sourceLanguage string
)

var sourceAddCmd = &cobra.Command{
	Use:   "add [project] [platform] [target]",
	Short: "Add a source (google_play, app_store, instagram, x, csv)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := parseSource(args[1], args[2])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		p, err := db.FindProject(ctx, args[0])
		if err != nil {
			return err
		}
		src, err := db.AddSource(ctx, p.ID, sc)
		if err != nil {
			return err
		}
		fmt.Printf("Added %s source %s to %s\n", src.Platform.DisplayName(), src.ID, p.Name)
		return nil
	},
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove [source-id]",
	Short: "Remove a source; its items are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RemoveSource(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed source %s\n", args[0])
		return nil
	},
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceCountry, "country", "", "App Store country code")
	sourceAddCmd.Flags().StringVar(&sourceLanguage, "language", "", "Google Play review language")
	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceRemoveCmd)
}

func parseSource(platform, target string) (feedback.SourceConfig, error) {
	p, err := feedback.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	sc, err := feedback.NewSourceConfig(p, target)
	if err != nil {
		return nil, err
	}
	switch c := sc.(type) {
	case feedback.AppStoreConfig:
		c.Country = sourceCountry
		return c, nil
	case feedback.GooglePlayConfig:
		c.Language = sourceLanguage
		return c, nil
	}
	return sc, nil
}

// --- sync command ---

var syncAll bool

var syncCmd = &cobra.Command{
	Use:   "sync [project]",
	Short: "Fetch new feedback for a project (or --all) and refresh its analysis",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAll == (len(args) == 1) {
			return errors.New("give either a project or --all")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe, err := pipeline.New(cfg, db, log)
		if err != nil {
			return err
		}

		if syncAll {
			results, err := pipe.Syncer.SyncAll(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Printf("%s: %v\n", r.ProjectID, r.Err)
					continue
				}
				printReport(r.Report)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d projects failed", failed, len(results))
			}
			return nil
		}

		p, err := db.FindProject(ctx, args[0])
		if err != nil {
			return err
		}
		rep, err := pipe.Syncer.Sync(ctx, p.ID)
		if errors.Is(err, syncer.ErrAlreadySyncing) {
			return fmt.Errorf("%s is already syncing; try again later", p.Name)
		}
		if err != nil {
			return err
		}
		printReport(rep)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every project")
}

func printReport(r *syncer.Report) {
	fmt.Printf("Project %s synced in %s\n", r.ProjectID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, o := range r.Sources {
		fmt.Printf("  %-11s %-5s fetched %d, stored %d, skipped %d, failed %d\n",
			o.Platform.DisplayName(), o.Status, o.Fetched, o.Upserted, o.Skipped, o.Failed)
		for _, e := range o.Errors {
			fmt.Printf("      error: %s\n", e)
		}
	}
	if r.Aborted != nil {
		fmt.Printf("  run stopped early: %v\n", r.Aborted)
	}
	if rate := r.FailureRate(); rate > 0 {
		fmt.Printf("  warning: %.0f%% of fetched items could not be stored\n", rate*100)
	}
	if r.Classified > 0 {
		fmt.Printf("  classified %d comments\n", r.Classified)
	}
	switch {
	case r.AnalysisErr != nil:
		fmt.Printf("  analysis failed, previous analysis kept: %v\n", r.AnalysisErr)
	case r.AnalysisSkipped:
		fmt.Println("  analysis skipped")
	default:
		fmt.Printf("  analysis %s saved\n", r.AnalysisID)
	}
}

// --- report command ---

var (
	reportHTML bool
	reportOut  string
)

var reportCmd = &cobra.Command{
	Use:   "report [project]",
	Short: "Render the latest analysis as Markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		p, err := db.FindProject(ctx, args[0])
		if err != nil {
			return err
		}
		sum, err := report.Build(ctx, db, p.ID, time.Now())
		if err != nil {
			return err
		}

		out := report.Markdown(sum)
		if reportHTML {
			if out, err = report.HTML(sum); err != nil {
				return err
			}
		}
		if reportOut == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(reportOut, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOut)
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportHTML, "html", false, "Render HTML instead of Markdown")
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Write to a file instead of stdout")
}

// --- serve command ---

var (
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and, with --interval, the sync scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		interval := cfg.Sync.Interval()
		if cmd.Flags().Changed("interval") {
			interval = serveInterval
		}
		if interval > 0 {
			go pipe.Syncer.RunScheduler(ctx, interval)
		}

		srv := server.New(db, pipe.Syncer, log)
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Sync all projects on this interval (e.g. 30m)")
}

func openDB() (*database.DB, error) {
	return database.Connect(cfg.Database.Driver, cfg.DatabaseDSN())
}
