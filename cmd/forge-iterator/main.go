package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kelsjon3/forge-iterator/internal/api"
	"github.com/kelsjon3/forge-iterator/internal/checkpoint"
	"github.com/kelsjon3/forge-iterator/internal/config"
	"github.com/kelsjon3/forge-iterator/internal/iterator"
	"github.com/kelsjon3/forge-iterator/internal/metrics"
	"github.com/kelsjon3/forge-iterator/internal/scan"
	"github.com/kelsjon3/forge-iterator/internal/writer"
	"github.com/kelsjon3/forge-iterator/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
	subfolder  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forge-iterator",
		Short: "forge-iterator - Checkpoint Iteration Scheduler for SD WebUI / Forge",
		Long: `forge-iterator schedules image-generation batches across the model
checkpoints found in a subfolder of your Stable-diffusion models
directory. Each checkpoint runs a configurable number of batches, the
active model is swapped before each group, and every saved image's
metadata records the checkpoint that actually produced it.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch iteration pipeline",
		Long: `Run the complete iteration pipeline:
1. Enumerate checkpoints in the selected subfolder
2. Build the batch plan (checkpoints x iterations per checkpoint)
3. For each batch: swap the checkpoint if needed, generate, record metadata`,
		RunE: runIteration,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&subfolder, "subfolder", "", "Override the configured checkpoint subfolder")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the batch plan without running anything",
		Long:  "Enumerate the subfolder and print the deterministic batch-index to checkpoint mapping",
		RunE:  previewPlan,
	}
	planCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	planCmd.Flags().StringVar(&subfolder, "subfolder", "", "Override the configured checkpoint subfolder")

	subfoldersCmd := &cobra.Command{
		Use:   "subfolders",
		Short: "List model subfolders under the models root",
		Long:  "List every subfolder of the models root that contains at least one checkpoint file",
		RunE:  listSubfolders,
	}
	subfoldersCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	// Session management commands
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage run sessions",
		Long:  "Inspect and resume interrupted iteration sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all session directories",
		Long:  "List all session directories in the output folder and their progress",
		RunE:  listSessions,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Inspect a session checkpoint",
		Long:  "Display detailed information about a session's saved progress",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <session-dir>",
		Short: "Resume an interrupted session",
		Long:  "Resume batch iteration from a specific session's saved progress",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeSession,
	}
	resumeCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	resumeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	sessionCmd.AddCommand(listCmd)
	sessionCmd.AddCommand(inspectCmd)
	sessionCmd.AddCommand(resumeCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(subfoldersCmd)
	rootCmd.AddCommand(sessionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIteration(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if subfolder != "" {
		cfg.Iterator.Subfolder = subfolder
	}
	return runWithConfig(cfg, secrets)
}

// runWithConfig runs the iteration pipeline with a loaded config.
func runWithConfig(cfg *config.Config, secrets *config.Secrets) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	resumeMode := cfg.Generation.ResumeFromSession != ""

	sessionMgr, err := writer.NewSessionManager(slog.Default(), cfg.Generation.ResumeFromSession)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("forge-iterator starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionMgr.GetSessionDir(),
		"resume_mode", resumeMode)

	if !resumeMode {
		if err := sessionMgr.BackupConfig(configPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	collector := metrics.NewCollector(logger)

	// Wire the checkpoint source and loader. With a host configured the
	// WebUI does the loading; otherwise dry-run mode simulates it.
	var client *api.Client
	if cfg.Host.BaseURL != "" {
		client = api.NewClient(cfg.Host, secrets, logger)
	}

	enum, err := buildEnumerator(cfg, client)
	if err != nil {
		return err
	}

	var loader iterator.Loader
	if client != nil {
		loader = api.NewLoader(client, logger)
	} else {
		loader = &dryLoader{logger: logger}
	}

	coord := iterator.NewCoordinator(cfg.Iterator, enum, loader, collector, logger)

	// Set up the run-progress checkpoint manager
	var checkpointMgr *checkpoint.Manager
	if resumeMode {
		existing, err := checkpoint.Load(sessionMgr.GetSessionDir(), logger)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if err := checkpoint.ValidateCheckpoint(existing, cfg); err != nil {
			return fmt.Errorf("checkpoint validation failed: %w", err)
		}
		checkpointMgr = checkpoint.NewManagerFromCheckpoint(sessionMgr.GetSessionDir(), existing, cfg, logger)
		logger.Info("Loaded checkpoint",
			"completed_batches", len(existing.CompletedBatches),
			"progress", fmt.Sprintf("%.1f%%", checkpoint.GetProgressPercentage(existing)))
	} else {
		checkpointMgr = checkpoint.NewManager(sessionMgr.GetSessionDir(), cfg, logger)
	}
	defer func() {
		if err := checkpointMgr.Close(); err != nil {
			logger.Error("Failed to close checkpoint manager", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runBatches(ctx, cfg, coord, checkpointMgr, sessionMgr, client, collector, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			sessionDir := filepath.Base(sessionMgr.GetSessionDir())
			logger.Warn("Run interrupted - resume from checkpoint",
				"session_dir", sessionDir,
				"resume_command", fmt.Sprintf("forge-iterator session resume %s", sessionDir))
			return fmt.Errorf("run interrupted (resume with: forge-iterator session resume %s)", sessionDir)
		}
		return err
	}

	stats := coord.Stats()
	logger.Info("Run complete",
		"total_batches", stats.TotalBatches,
		"completed", stats.CompletedBatches,
		"swaps", stats.SwapCount,
		"duration", stats.TotalDuration,
		"session_dir", sessionMgr.GetSessionDir())

	return nil
}

// runBatches drives the coordinator through the host lifecycle: one
// OnRunStart, strictly ordered OnBatch calls, one OnRunEnd.
func runBatches(
	ctx context.Context,
	cfg *config.Config,
	coord *iterator.Coordinator,
	checkpointMgr *checkpoint.Manager,
	sessionMgr *writer.SessionManager,
	client *api.Client,
	collector *metrics.Collector,
	logger *slog.Logger,
) (err error) {
	effective, err := coord.OnRunStart(ctx, cfg.Generation.BatchCount)
	if err != nil {
		return fmt.Errorf("run start failed: %w", err)
	}
	defer coord.OnRunEnd()

	cp := checkpointMgr.GetCheckpoint()
	manifest := &writer.RunManifest{
		SessionID: cp.SessionID,
		Subfolder: cfg.Iterator.Subfolder,
	}
	defer func() {
		stats := coord.Stats()
		manifest.Stats = stats
		manifest.FinishedAt = time.Now()
		if err != nil {
			manifest.Aborted = true
			manifest.AbortReason = err.Error()
		}
		if werr := sessionMgr.WriteManifest(manifest); werr != nil {
			logger.Error("Failed to write run manifest", "error", werr)
		}
	}()

	// Record the plan snapshot and figure out what is left to do.
	pending := make([]int, 0, effective)
	if p := coord.Plan(); p != nil && !p.IsPassthrough() {
		refs := p.Checkpoints()
		for _, ref := range refs {
			manifest.Checkpoints = append(manifest.Checkpoints, ref.Name)
		}
		if cp.TotalBatches > 0 {
			// Resume: the saved plan must still match reality.
			if verr := checkpoint.ValidatePlanMatch(cp, refs); verr != nil {
				return fmt.Errorf("cannot resume: %w", verr)
			}
			pending = checkpoint.GetPendingBatches(cp)
		} else {
			if serr := checkpointMgr.SetPlan(refs, effective); serr != nil {
				logger.Warn("Failed to save plan snapshot", "error", serr)
			}
		}
	}
	if len(pending) == 0 && cp.TotalBatches == 0 {
		for i := 0; i < effective; i++ {
			pending = append(pending, i)
		}
	}

	logger.Info("Executing batches",
		"effective_batches", effective,
		"pending", len(pending),
		"dry_run", cfg.Generation.DryRun)

	bar := progressbar.Default(int64(len(pending)), "Generating batches")
	stats := coord.Stats()

	for _, batchIndex := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		before := coord.Stats().SwapCount

		overrides, berr := coord.OnBatch(ctx, batchIndex, map[string]string{})
		if berr != nil {
			collector.RecordBatch(time.Since(start), false)
			// A load failure aborts the remainder: continuing would
			// mislabel every image generated after it.
			return fmt.Errorf("aborting run: %w", berr)
		}
		didSwap := coord.Stats().SwapCount > before

		if client != nil && !cfg.Generation.DryRun {
			if gerr := generateBatch(ctx, cfg, client, sessionMgr, batchIndex, overrides, logger); gerr != nil {
				collector.RecordBatch(time.Since(start), false)
				return fmt.Errorf("batch %d generation failed: %w", batchIndex, gerr)
			}
		}

		record := models.BatchRecord{
			BatchIndex: batchIndex,
			Checkpoint: overrides[iterator.CheckpointOverrideKey],
			DidSwap:    didSwap,
			Overrides:  overrides,
			StartedAt:  start,
			Duration:   time.Since(start),
		}
		if werr := sessionMgr.WriteBatchRecord(record); werr != nil {
			logger.Warn("Failed to write batch record", "batch_index", batchIndex, "error", werr)
		}

		stats = coord.Stats()
		if cerr := checkpointMgr.MarkBatchComplete(batchIndex, &stats); cerr != nil {
			logger.Warn("Failed to save progress checkpoint", "error", cerr)
		}

		collector.RecordBatch(time.Since(start), true)
		_ = bar.Add(1)
	}

	if cerr := checkpointMgr.MarkComplete(&stats); cerr != nil {
		logger.Warn("Failed to save final checkpoint", "error", cerr)
	}

	return nil
}

// generateBatch runs one txt2img call with the iterator's metadata
// overrides applied and saves the returned images.
func generateBatch(
	ctx context.Context,
	cfg *config.Config,
	client *api.Client,
	sessionMgr *writer.SessionManager,
	batchIndex int,
	overrides map[string]string,
	logger *slog.Logger,
) error {
	req := &api.Txt2ImgRequest{
		Prompt:           cfg.Generation.Prompt,
		NegativePrompt:   cfg.Generation.NegativePrompt,
		Steps:            cfg.Generation.Steps,
		Width:            cfg.Generation.Width,
		Height:           cfg.Generation.Height,
		CfgScale:         cfg.Generation.CfgScale,
		SamplerName:      cfg.Generation.SamplerName,
		Seed:             cfg.Generation.Seed,
		BatchSize:        cfg.Generation.BatchSize,
		NIter:            1, // The iterator owns the outer batch loop
		DoNotSaveGrid:    true,
		OverrideSettings: overrides,
		SendImages:       true,
	}

	resp, err := client.Txt2Img(ctx, req)
	if err != nil {
		return err
	}

	for i, img := range resp.Images {
		path, err := sessionMgr.WriteImage(batchIndex, i, img)
		if err != nil {
			return err
		}
		logger.Debug("Saved image", "batch_index", batchIndex, "path", path)
	}

	return nil
}

// buildEnumerator selects the checkpoint source configured for the run.
func buildEnumerator(cfg *config.Config, client *api.Client) (scan.Enumerator, error) {
	switch cfg.Iterator.Source {
	case config.SourceHost:
		if client == nil {
			return nil, fmt.Errorf("iterator.source=%q requires host.base_url", config.SourceHost)
		}
		return api.NewRemoteEnumerator(client, true), nil
	default:
		enum, err := scan.NewDirEnumerator(cfg.Iterator.ModelsRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open models root: %w", err)
		}
		return enum, nil
	}
}

// dryLoader simulates checkpoint loads when no host is configured, so
// plans can be exercised end to end without a GPU.
type dryLoader struct {
	logger  *slog.Logger
	current models.CheckpointRef
}

func (d *dryLoader) Load(_ context.Context, ref models.CheckpointRef) error {
	d.logger.Info("Dry run: would load checkpoint", "checkpoint", ref.Name)
	d.current = ref
	return nil
}

func (d *dryLoader) CurrentlyLoaded(_ context.Context) (models.CheckpointRef, bool, error) {
	return d.current, !d.current.IsZero(), nil
}

// previewPlan prints the deterministic batch-index to checkpoint mapping
func previewPlan(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if subfolder != "" {
		cfg.Iterator.Subfolder = subfolder
	}

	var client *api.Client
	if cfg.Host.BaseURL != "" {
		client = api.NewClient(cfg.Host, secrets, slog.Default())
	}
	enum, err := buildEnumerator(cfg, client)
	if err != nil {
		return err
	}

	ctx := context.Background()
	refs, err := enum.Enumerate(ctx, cfg.Iterator.Subfolder)
	if err != nil {
		return fmt.Errorf("enumeration failed: %w", err)
	}

	coord := iterator.NewCoordinator(cfg.Iterator, enum, &dryLoader{logger: slog.Default()},
		metrics.NewCollector(slog.Default()), slog.Default())
	effective, err := coord.OnRunStart(ctx, cfg.Generation.BatchCount)
	if err != nil {
		return err
	}
	defer coord.OnRunEnd()

	fmt.Printf("Subfolder:   %s\n", cfg.Iterator.Subfolder)
	fmt.Printf("Checkpoints: %d\n", len(refs))
	fmt.Printf("Iterations:  %d per checkpoint\n", cfg.Iterator.IterationsPerCheckpoint)
	fmt.Printf("Batches:     %d (host requested %d)\n", effective, cfg.Generation.BatchCount)
	fmt.Println(strings.Repeat("-", 60))

	p := coord.Plan()
	if p == nil || p.IsPassthrough() {
		fmt.Println("Pass-through: no checkpoints found, host defaults apply.")
		return nil
	}
	for i := 0; i < effective; i++ {
		ref, _, err := p.CheckpointFor(i)
		if err != nil {
			return err
		}
		fmt.Printf("batch %4d  ->  %s\n", i, ref.Name)
	}

	return nil
}

// listSubfolders prints checkpoint-bearing subfolders under the models root
func listSubfolders(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Iterator.ModelsRoot == "" {
		return fmt.Errorf("iterator.models_root is not configured")
	}

	enum, err := scan.NewDirEnumerator(cfg.Iterator.ModelsRoot)
	if err != nil {
		return fmt.Errorf("failed to open models root: %w", err)
	}

	counts, err := enum.CountBySubfolder()
	if err != nil {
		return err
	}
	folders, err := enum.Subfolders()
	if err != nil {
		return err
	}

	if len(folders) == 0 {
		fmt.Println("No checkpoint files found under the models root.")
		return nil
	}

	fmt.Printf("%-40s %s\n", "SUBFOLDER", "CHECKPOINTS")
	fmt.Println(strings.Repeat("-", 55))
	for _, f := range folders {
		name := f
		if name == "" {
			name = "(root)"
		}
		fmt.Printf("%-40s %d\n", name, counts[f])
	}

	return nil
}

// listSessions lists all session directories and their progress
func listSessions(cmd *cobra.Command, args []string) error {
	outputDir := "output"

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No output directory found. Run an iteration first.")
			return nil
		}
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	type sessionInfo struct {
		name       string
		hasCheckpt bool
		complete   bool
		progress   float64
	}
	var sessions []sessionInfo

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}

		sessionPath := filepath.Join(outputDir, entry.Name())
		info := sessionInfo{name: entry.Name()}

		if _, err := os.Stat(filepath.Join(sessionPath, checkpoint.CheckpointFilename)); err == nil {
			info.hasCheckpt = true
			if cp, err := checkpoint.Load(sessionPath, slog.Default()); err == nil {
				info.complete = cp.Complete
				info.progress = checkpoint.GetProgressPercentage(cp)
			}
		}

		sessions = append(sessions, info)
	}

	if len(sessions) == 0 {
		fmt.Println("No session directories found.")
		return nil
	}

	fmt.Println("Available sessions:")
	fmt.Println()
	fmt.Printf("%-35s %-12s %-10s %s\n", "SESSION", "CHECKPOINT", "COMPLETE", "PROGRESS")
	fmt.Println(strings.Repeat("-", 75))

	for _, s := range sessions {
		checkpointStatus := "No"
		if s.hasCheckpt {
			checkpointStatus = "Yes"
		}
		completeStatus := "No"
		if s.complete {
			completeStatus = "Yes"
		}
		fmt.Printf("%-35s %-12s %-10s %.1f%%\n", s.name, checkpointStatus, completeStatus, s.progress)
	}

	return nil
}

// inspectSession displays detailed information about a session checkpoint
func inspectSession(cmd *cobra.Command, args []string) error {
	sessionDir := args[0]

	if err := writer.ValidateSessionPath(sessionDir); err != nil {
		return fmt.Errorf("invalid session directory: %w", err)
	}

	fullPath := filepath.Join("output", sessionDir)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("session directory not found: %s", sessionDir)
	}

	cp, err := checkpoint.Load(fullPath, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	fmt.Printf("Session Information for: %s\n", sessionDir)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Session ID:      %s\n", cp.SessionID)
	fmt.Printf("Created At:      %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last Saved At:   %s\n", cp.LastSavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Subfolder:       %s\n", cp.Subfolder)
	fmt.Printf("Per Checkpoint:  %d\n", cp.PerCheckpoint)
	fmt.Printf("Config Hash:     %s\n", cp.ConfigHash)
	fmt.Println()

	fmt.Println("Plan:")
	for i, ref := range cp.Checkpoints {
		fmt.Printf("  %2d. %s\n", i, ref.Name)
	}
	fmt.Println()

	fmt.Printf("Progress:        %d / %d batches (%.1f%%)\n",
		len(cp.CompletedBatches), cp.TotalBatches, checkpoint.GetProgressPercentage(cp))
	fmt.Printf("Swaps:           %d\n", cp.Stats.SwapCount)
	fmt.Println()

	if !cp.Complete {
		fmt.Println("To resume this session, run:")
		fmt.Printf("  forge-iterator session resume %s\n", sessionDir)
	} else {
		fmt.Println("This session is complete.")
	}

	return nil
}

// resumeSession resumes iteration from a session checkpoint
func resumeSession(cmd *cobra.Command, args []string) error {
	sessionDir := args[0]

	if err := writer.ValidateSessionPath(sessionDir); err != nil {
		return fmt.Errorf("invalid session directory: %w", err)
	}

	fullPath := filepath.Join("output", sessionDir)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("session directory not found: %s", sessionDir)
	}

	cp, err := checkpoint.Load(fullPath, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := checkpoint.ValidateCheckpoint(cp, cfg); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}

	cfg.Generation.ResumeFromSession = sessionDir

	fmt.Printf("Resuming iteration from session: %s\n", sessionDir)
	fmt.Printf("Progress: %.1f%%\n", checkpoint.GetProgressPercentage(cp))
	fmt.Println()

	return runWithConfig(cfg, secrets)
}
