// Package provision turns a queued lab into a built (and optionally running)
// compose project, and tears labs down again.
//
// A provisioning attempt walks QUEUED -> PROCESSING -> BUILDING -> COMPLETED,
// persisting each status as it is reached. Any failure after the lab record
// is loaded ends the attempt in FAILED with a recorded error kind; nothing
// escapes the attempt as a panic or an unhandled error.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"vlem/internal/catalog"
	"vlem/internal/compose"
	"vlem/internal/logger"
	"vlem/internal/manifest"
	"vlem/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxErrorMessageBytes bounds the error message stored with a FAILED lab.
	MaxErrorMessageBytes = 1000

	// Log stages written to the lab log.
	StageBuild = "build"
	StageUp    = "up"

	failureWriteTimeout = 10 * time.Second
)

type (
	// LabRepository is the part of the lab store the engine writes to.
	LabRepository interface {
		GetLab(ctx context.Context, id string) (*store.Lab, error)
		UpdateLabStatus(ctx context.Context, id string, status store.LabStatus, failure *store.Failure) error
		DeleteLab(ctx context.Context, id string) error
	}

	// LogSink receives captured compose output.
	LogSink interface {
		AddLabLog(ctx context.Context, labID, stage, content string) error
	}

	// TemplateSource downloads template files into a directory.
	TemplateSource interface {
		DownloadTemplate(ctx context.Context, name, targetDir string) (*catalog.DownloadResult, error)
	}

	// ComposeRunner runs the compose CLI against manifest content.
	ComposeRunner interface {
		Run(ctx context.Context, content []byte, args []string, opts compose.RunOptions) (*compose.Result, error)
	}

	// PortChecker reports published host ports that are already bound.
	PortChecker interface {
		Conflicts(content []byte) ([]int, error)
	}
)

// Config tunes the engine.
type Config struct {
	// LabsDir holds one subdirectory per lab.
	LabsDir string
	// CommandTimeout bounds each compose invocation. Zero uses the runner default.
	CommandTimeout time.Duration
	// StartAfterBuild runs `up -d` after a successful build.
	StartAfterBuild bool
}

// Dependencies are the collaborators of an Engine. Logs, Ports and Logger
// are optional.
type Dependencies struct {
	Labs      LabRepository
	Logs      LogSink
	Templates TemplateSource
	Compose   ComposeRunner
	Ports     PortChecker
	Logger    *slog.Logger
}

// Outcome reports what one job did.
type Outcome struct {
	LabID   string
	JobType store.JobType
	// Status is the terminal status reached; empty when the lab was skipped
	// or for teardown jobs.
	Status store.LabStatus
	Err    error
	Kind   Kind
	// Skipped is true when the lab record no longer existed.
	Skipped bool
	// Retryable is true when the job could not start because the store was
	// unreachable, so redelivery may succeed.
	Retryable bool
	// StatusRecorded is false when the terminal status write itself failed.
	StatusRecorded bool
}

// Engine runs provisioning and teardown jobs.
type Engine struct {
	cfg       Config
	labs      LabRepository
	logs      LogSink
	templates TemplateSource
	compose   ComposeRunner
	ports     PortChecker
	logger    *slog.Logger

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

func New(cfg Config, deps Dependencies) *Engine {
	e := &Engine{
		cfg:       cfg,
		labs:      deps.Labs,
		logs:      deps.Logs,
		templates: deps.Templates,
		compose:   deps.Compose,
		ports:     deps.Ports,
		logger:    deps.Logger,
		tracer:    otel.Tracer("vlem/provision"),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	meter := otel.Meter("vlem/provision")
	if c, err := meter.Int64Counter("vlem.provision.outcomes",
		metric.WithDescription("Finished lab jobs by job type, status and error kind"),
	); err == nil {
		e.outcomes = c
	}
	if h, err := meter.Float64Histogram("vlem.provision.duration",
		metric.WithDescription("Lab job duration"),
		metric.WithUnit("s"),
	); err == nil {
		e.duration = h
	}
	return e
}

// Handle dispatches a queue item to the matching job.
func (e *Engine) Handle(ctx context.Context, labID string, jobType store.JobType) Outcome {
	switch jobType {
	case store.JobTypeProvision:
		return e.Provision(ctx, labID)
	case store.JobTypeTeardown:
		return e.Teardown(ctx, labID)
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
		logger.FromContext(logger.WithLabID(ctx, labID), e.logger).Error("dropping job", "job_type", jobType, "error", err)
		return Outcome{LabID: labID, JobType: jobType, Err: err, Kind: KindUnknown}
	}
}

// TemplateName returns the template a lab was created from. Labs stored
// without one fall back to the id prefix before the last '-'.
func TemplateName(lab *store.Lab) string {
	if lab.TemplateName != "" {
		return lab.TemplateName
	}
	if i := strings.LastIndex(lab.ID, "-"); i > 0 {
		return lab.ID[:i]
	}
	return lab.ID
}

// LabDir returns the directory of a lab under root.
func LabDir(root, labID string) (string, error) {
	if labID == "" || labID == "." || labID == ".." || strings.ContainsAny(labID, `/\`) {
		return "", fmt.Errorf("%w: %q", errInvalidLabID, labID)
	}
	return filepath.Join(root, labID), nil
}

// Provision runs one provisioning attempt for labID.
func (e *Engine) Provision(ctx context.Context, labID string) (out Outcome) {
	started := time.Now()
	ctx = logger.WithLabID(ctx, labID)
	log := logger.FromContext(ctx, e.logger)

	ctx, span := e.tracer.Start(ctx, "provision", trace.WithAttributes(attribute.String("lab.id", labID)))
	defer span.End()

	out = Outcome{LabID: labID, JobType: store.JobTypeProvision}
	defer func() { e.record(ctx, out, time.Since(started)) }()

	lab, err := e.labs.GetLab(ctx, labID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("lab not found, skipping provisioning")
		out.Skipped = true
		return out
	}
	if err != nil {
		out.Err = fmt.Errorf("load lab: %w", err)
		out.Kind = KindOf(err)
		out.Retryable = out.Kind == KindStoreUnavailable
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Kind))
		log.Error("failed to load lab", "kind", out.Kind, "error", err)
		return out
	}

	var dir string
	defer func() {
		if r := recover(); r != nil {
			out = e.fail(ctx, log, lab, dir, out, fmt.Errorf("provisioning panicked: %v", r))
		}
	}()

	dir, err = LabDir(e.cfg.LabsDir, lab.ID)
	if err == nil {
		err = e.provision(ctx, log, lab, dir)
	}
	if err != nil {
		return e.fail(ctx, log, lab, dir, out, err)
	}

	out.Status = store.LabStatusCompleted
	out.StatusRecorded = true
	log.Info("lab provisioned", "dir", dir)
	return out
}

func (e *Engine) provision(ctx context.Context, log *slog.Logger, lab *store.Lab, dir string) error {
	if err := e.setStatus(ctx, log, lab, store.LabStatusProcessing); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create lab directory: %v", ErrFilesystem, err)
	}

	if err := e.fetchTemplate(ctx, log, TemplateName(lab), dir); err != nil {
		return err
	}

	content, err := e.loadManifest(ctx, dir)
	if err != nil {
		return err
	}

	if err := e.setStatus(ctx, log, lab, store.LabStatusBuilding); err != nil {
		return err
	}

	if err := e.build(ctx, log, lab, dir, content); err != nil {
		return err
	}

	if e.cfg.StartAfterBuild {
		if err := e.start(ctx, log, lab, dir, content); err != nil {
			return err
		}
	}

	return e.setStatus(ctx, log, lab, store.LabStatusCompleted)
}

func (e *Engine) setStatus(ctx context.Context, log *slog.Logger, lab *store.Lab, status store.LabStatus) error {
	if err := e.labs.UpdateLabStatus(ctx, lab.ID, status, nil); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	log.Info("lab status updated", "from", lab.Status, "to", status)
	lab.Status = status
	return nil
}

func (e *Engine) fetchTemplate(ctx context.Context, log *slog.Logger, name, dir string) error {
	ctx, span := e.tracer.Start(ctx, "fetch_template", trace.WithAttributes(attribute.String("template.name", name)))
	defer span.End()

	log.Info("downloading template", "template", name, "dir", dir)
	res, err := e.templates.DownloadTemplate(ctx, name, dir)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("download template %q: %w", name, err)
	}
	if len(res.SkippedDirs) > 0 {
		log.Warn("template subdirectories are not supported and were skipped",
			"template", name,
			"skipped", res.SkippedDirs,
		)
	}
	span.SetAttributes(attribute.Int("template.files", len(res.Files)))
	return nil
}

func (e *Engine) loadManifest(ctx context.Context, dir string) ([]byte, error) {
	_, span := e.tracer.Start(ctx, "validate_manifest")
	defer span.End()

	path := filepath.Join(dir, manifest.FileName)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: template has no %s", ErrManifestMissing, manifest.FileName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrFilesystem, err)
	}

	if err := manifest.CheckWellFormed(content); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", manifest.FileName, err)
	}
	return content, nil
}

func (e *Engine) runOptions(lab *store.Lab, dir string) compose.RunOptions {
	return compose.RunOptions{
		Project:          lab.ID,
		ProjectDirectory: dir,
		Timeout:          e.cfg.CommandTimeout,
		MergeOutput:      true,
	}
}

func (e *Engine) build(ctx context.Context, log *slog.Logger, lab *store.Lab, dir string, content []byte) error {
	ctx, span := e.tracer.Start(ctx, "build")
	defer span.End()

	log.Info("building lab services")
	res, err := e.compose.Run(ctx, content, []string{"build"}, e.runOptions(lab, dir))
	e.capture(ctx, log, lab.ID, StageBuild, res, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

func (e *Engine) start(ctx context.Context, log *slog.Logger, lab *store.Lab, dir string, content []byte) error {
	ctx, span := e.tracer.Start(ctx, "start")
	defer span.End()

	if e.ports != nil {
		busy, err := e.ports.Conflicts(content)
		if err != nil {
			return fmt.Errorf("check ports: %w", err)
		}
		if len(busy) > 0 {
			log.Warn("published ports already in use", "ports", busy)
			return &PortConflictError{Ports: busy}
		}
	}

	log.Info("starting lab services")
	res, err := e.compose.Run(ctx, content, []string{"up", "-d"}, e.runOptions(lab, dir))
	e.capture(ctx, log, lab.ID, StageUp, res, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("up: %w", err)
	}
	return nil
}

// capture appends compose output to the lab log. Failures are logged only.
func (e *Engine) capture(ctx context.Context, log *slog.Logger, labID, stage string, res *compose.Result, runErr error) {
	if e.logs == nil {
		return
	}

	var output string
	var failed *compose.CommandFailedError
	var timedOut *compose.CommandTimedOutError
	switch {
	case res != nil:
		output = res.Stdout + res.Stderr
	case errors.As(runErr, &failed):
		output = failed.Stdout + failed.Stderr
	case errors.As(runErr, &timedOut):
		output = timedOut.Stdout + timedOut.Stderr
	}
	if output == "" {
		return
	}

	if err := e.logs.AddLabLog(ctx, labID, stage, output); err != nil {
		log.Warn("failed to store compose output", "stage", stage, "error", err)
	}
}

// fail records FAILED with the error detail. The write is best effort and
// survives cancellation of ctx.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, lab *store.Lab, dir string, out Outcome, err error) Outcome {
	out.Status = store.LabStatusFailed
	out.Err = err
	out.Kind = KindOf(err)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(out.Kind))
	log.Error("provisioning failed", "status", lab.Status, "kind", out.Kind, "error", err)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	failure := &store.Failure{Kind: string(out.Kind), Message: truncate(err.Error(), MaxErrorMessageBytes)}
	if werr := e.labs.UpdateLabStatus(writeCtx, lab.ID, store.LabStatusFailed, failure); werr != nil {
		log.Error("failed to record FAILED status", "error", werr)
	} else {
		lab.Status = store.LabStatusFailed
		out.StatusRecorded = true
	}

	if dir != "" {
		if rerr := os.RemoveAll(dir); rerr != nil {
			log.Warn("failed to remove lab directory", "dir", dir, "error", rerr)
		}
	}
	return out
}

func (e *Engine) record(ctx context.Context, out Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("job_type", string(out.JobType)),
		attribute.String("status", string(out.Status)),
		attribute.String("kind", string(out.Kind)),
	)
	if e.outcomes != nil {
		e.outcomes.Add(ctx, 1, attrs)
	}
	if e.duration != nil {
		e.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
