// Package ingest feeds document files from a drop directory into an
// index. An initial scan picks up existing files in parallel; afterwards a
// filesystem watcher ingests new and changed files as they appear. A
// manifest database keyed by path, size and mtime makes ingestion
// idempotent across runs.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/lming/mimir"
)

const (
	// DefaultDebounceWindow is how long a file must stay quiet before it
	// is ingested. Editors and downloads write in bursts.
	DefaultDebounceWindow = 200 * time.Millisecond

	// DefaultScanWorkers bounds the initial-scan parallelism.
	DefaultScanWorkers = 4
)

// Options configures an Ingester.
type Options struct {
	// DebounceWindow overrides DefaultDebounceWindow when positive.
	DebounceWindow time.Duration
	// ScanWorkers overrides DefaultScanWorkers when positive.
	ScanWorkers int
	// Logger receives ingest progress; defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.ScanWorkers <= 0 {
		o.ScanWorkers = DefaultScanWorkers
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Ingester pushes document files into one index.
type Ingester struct {
	idx      *mimir.Index
	manifest *Manifest
	opts     Options
	log      *slog.Logger
}

// New builds an Ingester over idx with a manifest at manifestPath.
func New(idx *mimir.Index, manifestPath string, opts Options) (*Ingester, error) {
	opts = opts.withDefaults()
	man, err := OpenManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return &Ingester{
		idx:      idx,
		manifest: man,
		opts:     opts,
		log:      opts.Logger,
	}, nil
}

// Close releases the manifest database.
func (in *Ingester) Close() error {
	return in.manifest.Close()
}

// Scan walks dir and ingests every new or changed document file, using a
// bounded worker pool. It returns the first ingest error encountered.
func (in *Ingester) Scan(ctx context.Context, dir string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.ScanWorkers)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !ingestible(path) {
			return nil
		}
		g.Go(func() error {
			return in.ingestPath(ctx, path)
		})
		return ctx.Err()
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	return err
}

// Watch ingests files as they appear or change under dir until ctx is
// done. Callers usually Scan first so pre-existing files are covered.
func (in *Ingester) Watch(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	deb := newDebouncer(in.opts.DebounceWindow)
	defer deb.stop()

	in.log.Info("watching_directory", slog.String("dir", dir))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ingestible(ev.Name) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				deb.add(fileEvent{path: ev.Name, removed: true})
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				deb.add(fileEvent{path: ev.Name})
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			in.log.Warn("watcher_error", slog.String("error", err.Error()))

		case batch := <-deb.out():
			for _, ev := range batch {
				if ev.removed {
					if err := in.manifest.Forget(ev.path); err != nil {
						in.log.Warn("manifest_forget_failed",
							slog.String("path", ev.path),
							slog.String("error", err.Error()))
					}
					continue
				}
				if err := in.ingestPath(ctx, ev.path); err != nil {
					in.log.Warn("ingest_failed",
						slog.String("path", ev.path),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// ingestPath ingests one file if the manifest says it is new or changed.
func (in *Ingester) ingestPath(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	needed, err := in.manifest.NeedsIngest(path, info.Size(), info.ModTime())
	if err != nil {
		return err
	}
	if !needed {
		in.log.Debug("ingest_skipped_unchanged", slog.String("path", path))
		return nil
	}

	docs, err := readDocuments(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(docs) == 0 {
		return in.manifest.Record(path, info.Size(), info.ModTime(), -1)
	}

	task, err := in.idx.AddDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("add documents from %s: %w", path, err)
	}
	done, err := in.idx.WaitForTask(ctx, task.UID)
	if err != nil {
		return err
	}
	if terr := done.Err(); terr != nil {
		return fmt.Errorf("ingest %s: %w", path, terr)
	}

	in.log.Info("ingested_file",
		slog.String("path", path),
		slog.Int("documents", len(docs)),
		slog.Int64("task_uid", task.UID))
	return in.manifest.Record(path, info.Size(), info.ModTime(), task.UID)
}
