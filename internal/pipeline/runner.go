package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/modforge/internal/buildpack"
	"github.com/user/modforge/internal/database"
	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/runlog"
)

// SourceControl checks the working tree out at a ref.
type SourceControl interface {
	Checkout(ctx context.Context, ref string) error
}

// ArchiveBuilder rebuilds the localized string tables and assembles the game
// archives from the working tree.
type ArchiveBuilder interface {
	RebuildStringTables(ctx context.Context) error
	BuildArchives(ctx context.Context) ([]string, error)
}

// Packager zips build output for distribution.
type Packager interface {
	PackageBundle(ctx context.Context, dest string) error
	PackageFile(ctx context.Context, src, arcname, dest string) error
	AssetPath() string
}

// Publisher pushes a local file to object storage.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) error
}

// TrackerSyncer runs the issue-tracker side of a release.
type TrackerSyncer interface {
	SyncRelease(ctx context.Context, isBeta bool, version, candidate string) error
}

// ReleaseNotifier announces run outcomes. Delivery is best effort.
type ReleaseNotifier interface {
	Success(ctx context.Context, user, releaseName string)
	Failure(ctx context.Context, releaseName, detail string)
}

// RunRecorder persists run history. The runner tolerates a nil recorder.
type RunRecorder interface {
	StartRun(ctx context.Context, run *database.Run) error
	FinishRun(ctx context.Context, runID, status, runErr string) error
}

// Status is a point-in-time view of the pipeline for the API.
type Status struct {
	Running   bool      `json:"running"`
	Release   string    `json:"release,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Runner executes release runs one at a time. Start rejects a new run while
// one is in flight instead of queueing it.
type Runner struct {
	mu sync.Mutex

	log     *runlog.Log
	workDir string
	timeout time.Duration

	source    SourceControl
	builder   ArchiveBuilder
	packager  Packager
	publisher Publisher
	tracker   TrackerSyncer
	notifier  ReleaseNotifier
	runs      RunRecorder

	statusMu sync.Mutex
	current  Status
}

type RunnerConfig struct {
	Log     *runlog.Log
	WorkDir string
	Timeout time.Duration

	Source    SourceControl
	Builder   ArchiveBuilder
	Packager  Packager
	Publisher Publisher
	Tracker   TrackerSyncer
	Notifier  ReleaseNotifier
	Runs      RunRecorder
}

func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		log:       cfg.Log,
		workDir:   cfg.WorkDir,
		timeout:   cfg.Timeout,
		source:    cfg.Source,
		builder:   cfg.Builder,
		packager:  cfg.Packager,
		publisher: cfg.Publisher,
		tracker:   cfg.Tracker,
		notifier:  cfg.Notifier,
		runs:      cfg.Runs,
	}
}

// Start validates the request and launches the run in the background,
// returning its ID. A *BusyError carries the in-flight run's log so callers
// can show progress instead of a bare rejection.
func (r *Runner) Start(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	if !r.mu.TryLock() {
		return "", &BusyError{Log: r.log.Snapshot()}
	}

	runID := uuid.New().String()
	name := req.ReleaseName()

	r.setStatus(Status{Running: true, Release: name, StartedAt: time.Now()})
	r.recordStart(runID, req)
	logger.Info().Str("run", runID).Str("release", name).Str("user", req.User.Name).
		Msg("Release run started")

	go func() {
		defer r.mu.Unlock()
		defer r.setStatus(Status{})

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.run(ctx, req); err != nil {
			logger.Error().Err(err).Str("run", runID).Msg("Release run failed")
			r.recordFinish(runID, "failed", err.Error())
			r.errorFlow(ctx, name, err)
			return
		}

		logger.Info().Str("run", runID).Msg("Release run finished")
		r.recordFinish(runID, "success", "")
	}()

	return runID, nil
}

// CurrentStatus reports whether a run is in flight and which release it
// builds.
func (r *Runner) CurrentStatus() Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.current
}

func (r *Runner) setStatus(status Status) {
	r.statusMu.Lock()
	r.current = status
	r.statusMu.Unlock()
}

func (r *Runner) run(ctx context.Context, req Request) error {
	r.preFlow(req)

	if req.Flows.Build {
		if err := r.buildFlow(ctx, req); err != nil {
			return err
		}
	}

	if req.Flows.Tracker {
		if err := r.trackerFlow(ctx, req); err != nil {
			return err
		}
	}

	r.postFlow(ctx, req)
	return nil
}

func (r *Runner) preFlow(req Request) {
	r.log.Reset()
	r.log.Line("Starting release %s, ordered by %s", req.ReleaseName(), req.User.Name)
}

func (r *Runner) buildFlow(ctx context.Context, req Request) error {
	ref := req.CheckoutRef()
	r.log.Line("Checking out %s", ref)
	if err := r.source.Checkout(ctx, ref); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}

	r.log.Line("Rebuilding string tables")
	if err := r.builder.RebuildStringTables(ctx); err != nil {
		return fmt.Errorf("rebuilding string tables: %w", err)
	}

	r.log.Line("Building archives")
	archives, err := r.builder.BuildArchives(ctx)
	if err != nil {
		return fmt.Errorf("building archives: %w", err)
	}

	r.log.Line("Packaging bundle")
	bundlePath := filepath.Join(r.workDir, req.BundleName())
	if err := r.packager.PackageBundle(ctx, bundlePath); err != nil {
		return fmt.Errorf("packaging bundle: %w", err)
	}
	if err := r.publisher.Publish(ctx, bundlePath, req.BundleName()); err != nil {
		return fmt.Errorf("publishing bundle: %w", err)
	}

	prefix := req.KeyPrefix()
	for _, archive := range archives {
		base := filepath.Base(archive)
		zipPath := filepath.Join(r.workDir, base+".zip")
		r.log.Line("Packaging %s", base)
		if err := r.packager.PackageFile(ctx, archive, base, zipPath); err != nil {
			return fmt.Errorf("packaging %s: %w", base, err)
		}
		if err := r.publisher.Publish(ctx, zipPath, prefix+"/"+base+".zip"); err != nil {
			return fmt.Errorf("publishing %s: %w", base, err)
		}
		// The raw archive has been superseded by its published zip.
		if err := os.Remove(archive); err != nil {
			logger.Error().Err(err).Str("archive", archive).Msg("Could not remove built archive")
		}
	}

	r.log.Line("Packaging auxiliary asset")
	assetZip := filepath.Join(r.workDir, "asset.zip")
	if err := r.packager.PackageFile(ctx, r.packager.AssetPath(), buildpack.AssetName, assetZip); err != nil {
		return fmt.Errorf("packaging asset: %w", err)
	}
	if err := r.publisher.Publish(ctx, assetZip, prefix+"/asset.zip"); err != nil {
		return fmt.Errorf("publishing asset: %w", err)
	}

	return nil
}

func (r *Runner) trackerFlow(ctx context.Context, req Request) error {
	r.log.Line("Updating issue tracker")
	if err := r.tracker.SyncRelease(ctx, req.IsBeta, req.Version, req.Candidate); err != nil {
		return fmt.Errorf("syncing tracker: %w", err)
	}
	return nil
}

func (r *Runner) postFlow(ctx context.Context, req Request) {
	r.log.Line("Release %s ready", req.ReleaseName())
	r.notifier.Success(ctx, req.User.Name, req.ReleaseName())
}

func (r *Runner) errorFlow(ctx context.Context, releaseName string, runErr error) {
	r.log.Line("Release failed: %v", runErr)
	r.notifier.Failure(ctx, releaseName, runErr.Error())
}

func (r *Runner) recordStart(runID string, req Request) {
	if r.runs == nil {
		return
	}
	run := &database.Run{
		ID:          runID,
		Version:     req.Version,
		IsBeta:      req.IsBeta,
		Candidate:   req.Candidate,
		Branch:      req.Branch,
		Commit:      req.Commit,
		RequestedBy: req.User.Name,
		Status:      "running",
		StartedAt:   time.Now().Unix(),
	}
	if err := r.runs.StartRun(context.Background(), run); err != nil {
		logger.Error().Err(err).Str("run", runID).Msg("Could not record run start")
	}
}

func (r *Runner) recordFinish(runID, status, runErr string) {
	if r.runs == nil {
		return
	}
	if err := r.runs.FinishRun(context.Background(), runID, status, runErr); err != nil {
		logger.Error().Err(err).Str("run", runID).Msg("Could not record run finish")
	}
}
