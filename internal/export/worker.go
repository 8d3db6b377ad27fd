package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"privacy/api/internal/dsr"
	"privacy/api/internal/logging"
	"privacy/api/internal/metrics"
	"privacy/api/internal/redact"
	"privacy/api/internal/store"
)

// mediaSignConcurrency bounds parallel presign calls for media links.
const mediaSignConcurrency = 8

// Requests is the part of the request store the worker writes through.
type Requests interface {
	Patch(ctx context.Context, id string, patch dsr.Patch, entry *dsr.AuditEntry) (dsr.Request, error)
}

// IdentitySource loads the relational identity of a user.
type IdentitySource interface {
	FetchIdentity(ctx context.Context, userID string) (store.Identity, error)
}

// ObjectStore uploads archives, signs read URLs and removes archives that
// no request points at.
type ObjectStore interface {
	Upload(ctx context.Context, path string, body []byte) (int64, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error)
	Remove(ctx context.Context, path string) error
}

// Options tunes a Worker.
type Options struct {
	// Environment prefixes every object path.
	Environment string
	// MediaURLTTL is the lifetime of signed media links inside the archive.
	MediaURLTTL time.Duration
	// Collections overrides DefaultCollections.
	Collections []Collection
}

// Worker gathers, redacts, packages and uploads a user's data, leaving the
// request awaiting review.
type Worker struct {
	requests    Requests
	docs        store.Documents
	identity    IdentitySource
	objects     ObjectStore
	redactor    *redact.Redactor
	collections []Collection
	environment string
	mediaTTL    time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewWorker creates an export worker.
func NewWorker(requests Requests, docs store.Documents, identity IdentitySource, objects ObjectStore, redactor *redact.Redactor, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	collections := opts.Collections
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	environment := opts.Environment
	if environment == "" {
		environment = "dev"
	}
	mediaTTL := opts.MediaURLTTL
	if mediaTTL <= 0 {
		mediaTTL = 12 * time.Hour
	}
	return &Worker{
		requests:    requests,
		docs:        docs,
		identity:    identity,
		objects:     objects,
		redactor:    redactor,
		collections: collections,
		environment: environment,
		mediaTTL:    mediaTTL,
		metrics:     m,
		logger:      logging.Component(logger, "export"),
		now:         time.Now,
	}
}

// Run executes one export attempt. Any failure after the request is marked
// running leaves it failed with the captured reason, and the error is
// returned to the caller.
func (w *Worker) Run(ctx context.Context, req dsr.Request) (err error) {
	started := w.now().UTC()
	defer func() { w.metrics.ObserveJob(string(dsr.TypeExport), started, err) }()

	running := dsr.StatusRunning
	entry := dsr.NewAuditEntry(started, "system", "export.started", nil)
	if _, err := w.requests.Patch(ctx, req.ID, dsr.Patch{Status: &running, IncrementAttempt: true, StartedAt: &started}, &entry); err != nil {
		return fmt.Errorf("start export %s: %w", req.ID, err)
	}

	path, size, err := w.produce(ctx, req)
	if err != nil {
		return w.fail(ctx, req.ID, err)
	}
	w.metrics.ObserveExportBytes(size)

	completed := w.now().UTC()
	awaiting := dsr.StatusAwaitingReview
	cleared := ""
	entry = dsr.NewAuditEntry(completed, "system", "export.uploaded", map[string]any{"blobPath": path, "bytes": size})
	_, err = w.requests.Patch(ctx, req.ID, dsr.Patch{
		Status:         &awaiting,
		ExportBlobPath: &path,
		ExportBytes:    &size,
		CompletedAt:    &completed,
		FailureReason:  &cleared,
	}, &entry)
	if dsr.HasCode(err, dsr.CodeInvalidTransition) {
		// Canceled while running; nothing references the archive.
		w.logger.Warn().
			Str("event", "dsr.export.canceled").
			Str("request_id", req.ID).
			Str("blob_path", path).
			Msg("export finished after cancel")
		if err := w.objects.Remove(context.WithoutCancel(ctx), path); err != nil {
			w.logger.Error().Err(err).
				Str("event", "dsr.export.orphan_remove_failed").
				Str("request_id", req.ID).
				Str("blob_path", path).
				Msg("could not remove orphaned archive")
		}
		return nil
	}
	if err != nil {
		return w.fail(ctx, req.ID, err)
	}

	w.logger.Info().
		Str("event", "dsr.export.uploaded").
		Str("request_id", req.ID).
		Str("blob_path", path).
		Int64("bytes", size).
		Msg("export uploaded")
	return nil
}

func (w *Worker) fail(ctx context.Context, id string, cause error) error {
	reason := cause.Error()
	failed := dsr.StatusFailed
	completed := w.now().UTC()
	entry := dsr.NewAuditEntry(completed, "system", "export.failed", map[string]any{"reason": reason})
	if _, err := w.requests.Patch(ctx, id, dsr.Patch{Status: &failed, FailureReason: &reason, CompletedAt: &completed}, &entry); err != nil {
		w.logger.Error().Err(err).
			Str("event", "dsr.export.fail_patch").
			Str("request_id", id).
			Msg("could not record export failure")
	}
	w.logger.Error().Err(cause).
		Str("event", "dsr.export.failed").
		Str("request_id", id).
		Msg("export failed")
	return cause
}

// produce builds and uploads the archive, returning its path and size.
func (w *Worker) produce(ctx context.Context, req dsr.Request) (string, int64, error) {
	bundle, err := w.collect(ctx, req.UserID)
	if err != nil {
		return "", 0, err
	}

	entries, err := bundle.Entries(w.collections)
	if err != nil {
		return "", 0, err
	}
	archive, err := WriteArchive(entries)
	if err != nil {
		return "", 0, err
	}

	path := ObjectPath(w.environment, w.now(), req.ID)
	size, err := w.objects.Upload(ctx, path, archive)
	if err != nil {
		return "", 0, err
	}
	return path, size, nil
}

// collect fetches identity and every collection concurrently, then redacts
// them and derives score cards and media links.
func (w *Worker) collect(ctx context.Context, userID string) (Bundle, error) {
	var identity store.Identity
	fetched := make([][]store.Record, len(w.collections))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		identity, err = w.identity.FetchIdentity(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch identity %s: %w", userID, err)
		}
		return nil
	})
	for i, c := range w.collections {
		g.Go(func() error {
			records, err := w.docs.Query(gctx, c.Container, c.query(userID))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", c.Name, err)
			}
			fetched[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		Identity: map[string]any{
			"profile":   w.redactor.Record(identity.Profile),
			"providers": w.redactor.Records(identity.Providers),
		},
		Collections: make(map[string][]map[string]any, len(w.collections)),
	}
	for i, c := range w.collections {
		records := make([]map[string]any, 0, len(fetched[i]))
		for _, rec := range fetched[i] {
			records = append(records, w.redactor.Record(rec))
		}
		bundle.Collections[c.Name] = records
	}

	bundle.ScoreCards = BuildScoreCards(bundle.Collections["moderation"])
	links, err := w.mediaLinks(ctx, ExtractMediaPaths(bundle.Collections["posts"]))
	if err != nil {
		return Bundle{}, err
	}
	bundle.MediaLinks = links
	return bundle, nil
}

func (w *Worker) mediaLinks(ctx context.Context, paths []string) ([]MediaLink, error) {
	links := make([]MediaLink, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mediaSignConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			url, expiresAt, err := w.objects.SignedURL(gctx, path, w.mediaTTL)
			if err != nil {
				return fmt.Errorf("sign media %s: %w", path, err)
			}
			links[i] = MediaLink{BlobPath: path, URL: url, ExpiresAt: expiresAt.UTC()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return links, nil
}
