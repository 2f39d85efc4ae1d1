package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vlem/internal/logger"
	"vlem/internal/manifest"
	"vlem/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Teardown stops the lab's containers, removes its directory and deletes
// its record. A `down` failure is logged and does not stop the cleanup.
// Teardown writes no status. A lab that has not reached a terminal status
// is left alone and the job is returned as retryable.
func (e *Engine) Teardown(ctx context.Context, labID string) (out Outcome) {
	started := time.Now()
	ctx = logger.WithLabID(ctx, labID)
	log := logger.FromContext(ctx, e.logger)

	ctx, span := e.tracer.Start(ctx, "teardown", trace.WithAttributes(attribute.String("lab.id", labID)))
	defer span.End()

	out = Outcome{LabID: labID, JobType: store.JobTypeTeardown}
	defer func() { e.record(ctx, out, time.Since(started)) }()

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("teardown panicked: %v", r)
			out.Kind = KindUnknown
			log.Error("teardown failed", "error", out.Err)
		}
	}()

	failWith := func(err error) Outcome {
		out.Err = err
		out.Kind = KindOf(err)
		out.Retryable = out.Kind == KindStoreUnavailable
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.Kind))
		log.Error("teardown failed", "kind", out.Kind, "error", err)
		return out
	}

	dir, err := LabDir(e.cfg.LabsDir, labID)
	if err != nil {
		return failWith(err)
	}

	lab, err := e.labs.GetLab(ctx, labID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		out.Skipped = true
	case err != nil:
		return failWith(fmt.Errorf("load lab: %w", err))
	case !lab.Status.Terminal():
		out = failWith(fmt.Errorf("%w: status %s", ErrLabBusy, lab.Status))
		out.Retryable = true
		return out
	}

	if content, err := os.ReadFile(filepath.Join(dir, manifest.FileName)); err == nil {
		// The lab log is deleted with the record, so output only goes to the process log.
		res, derr := e.compose.Run(ctx, content, []string{"down", "--remove-orphans"}, e.runOptions(&store.Lab{ID: labID}, dir))
		if derr != nil {
			log.Warn("compose down failed, continuing teardown", "error", derr)
		} else {
			log.Debug("compose down finished", "duration", res.Duration, "output", res.Stdout)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return failWith(fmt.Errorf("%w: remove lab directory: %v", ErrFilesystem, err))
	}

	if lab != nil {
		if err := e.labs.DeleteLab(ctx, labID); err != nil {
			return failWith(fmt.Errorf("delete lab: %w", err))
		}
	}

	log.Info("lab torn down", "skipped_record", out.Skipped)
	return out
}
