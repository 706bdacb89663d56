package catalog

import (
	"context"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/medleyfs/medley/internal/listing"
	"github.com/medleyfs/medley/internal/logging"
	"github.com/medleyfs/medley/internal/metrics"
	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

// upserter is the slice of the store the synchronizer needs.
type upserter interface {
	Upsert(ctx context.Context, e *Entry) (*Entry, error)
}

type syncJob struct {
	abs string
	// depth is the remaining recursion budget for directory jobs; zero
	// records the path itself without descending.
	depth int
}

// Synchronizer feeds filesystem observations into the catalog from a bounded
// background queue. Enqueueing never blocks a request: when the queue is full
// the observation is dropped and the next sighting of the path retries.
type Synchronizer struct {
	store    upserter
	resolver *sandbox.Resolver
	filter   *policy.Filter
	baseURL  string

	queue        chan syncJob
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	workers      int
	maxDepth     int
	maxHashBytes int64
	closed       atomic.Bool
}

// NewSynchronizer creates a catalog synchronizer. maxDepth bounds how far
// EnqueueTree descends; maxHashBytes bounds the file size that still gets a
// content hash.
func NewSynchronizer(store upserter, resolver *sandbox.Resolver, filter *policy.Filter,
	baseURL string, workers, queueSize, maxDepth int) *Synchronizer {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Synchronizer{
		store:        store,
		resolver:     resolver,
		filter:       filter,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		queue:        make(chan syncJob, queueSize),
		workers:      workers,
		maxDepth:     maxDepth,
		maxHashBytes: 64 * 1024 * 1024,
	}
}

// Start launches the worker goroutines.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	logging.Info("catalog synchronizer started", zap.Int("workers", s.workers))
}

// Stop drains the queue and waits for the workers to finish.
func (s *Synchronizer) Stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.queue)
	s.wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	logging.Info("catalog synchronizer stopped")
}

// Enqueue records a single accessed path.
func (s *Synchronizer) Enqueue(absPath string) {
	s.enqueue(syncJob{abs: absPath})
}

// EnqueueTree records a directory and its descendants, bounded by the
// configured maximum depth.
func (s *Synchronizer) EnqueueTree(absPath string) {
	s.enqueue(syncJob{abs: absPath, depth: s.maxDepth})
}

func (s *Synchronizer) enqueue(j syncJob) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- j:
		metrics.SetSyncQueueDepth(len(s.queue))
	default:
		metrics.RecordSyncDropped()
		logging.Warn("catalog sync queue full, dropping", zap.String("path", j.abs))
	}
}

func (s *Synchronizer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.SetSyncQueueDepth(len(s.queue))
			s.process(ctx, j)
		}
	}
}

func (s *Synchronizer) process(ctx context.Context, j syncJob) {
	rel, err := s.resolver.Rel(j.abs)
	if err != nil {
		logging.Warn("catalog sync: path outside root", zap.String("path", j.abs), zap.Error(err))
		return
	}

	info, err := os.Stat(j.abs)
	if err != nil {
		// Vanished between sighting and sync. Nothing to record.
		logging.Debug("catalog sync: stat failed", zap.String("path", j.abs), zap.Error(err))
		return
	}

	// The media root itself has no record; only its contents do.
	if rel != "" {
		entry := s.buildEntry(j.abs, rel, info)
		if _, err := s.store.Upsert(ctx, entry); err != nil {
			metrics.RecordSyncUpsert(false)
			logging.Warn("catalog sync: upsert failed", zap.String("path", rel), zap.Error(err))
		} else {
			metrics.RecordSyncUpsert(true)
		}
	}

	if info.IsDir() && j.depth > 0 {
		s.descend(j.abs, rel, j.depth-1)
	}
}

// descend enqueues the children of a synced directory, honoring the
// exclusion policy so filtered paths never enter the catalog.
func (s *Synchronizer) descend(abs, rel string, depth int) {
	dirents, err := os.ReadDir(abs)
	if err != nil {
		logging.Debug("catalog sync: read dir failed", zap.String("path", abs), zap.Error(err))
		return
	}
	atRoot := rel == ""
	for _, de := range dirents {
		childRel := de.Name()
		if !atRoot {
			childRel = rel + "/" + de.Name()
		}
		if s.filter.IsExcluded(childRel, atRoot) {
			continue
		}
		if !de.IsDir() && s.filter.IsDisallowedExtension(de.Name()) {
			continue
		}
		s.enqueue(syncJob{abs: filepath.Join(abs, de.Name()), depth: depth})
	}
}

func (s *Synchronizer) buildEntry(abs, rel string, info os.FileInfo) *Entry {
	entry := &Entry{
		Name:  info.Name(),
		IsDir: info.IsDir(),
		Paths: Paths{
			Local:    abs,
			Relative: rel,
		},
		Collection: collectionOf(rel),
	}

	if entry.IsDir {
		entry.Paths.Remote = s.remoteURL("list", rel)
		return entry
	}

	entry.Size = info.Size()
	entry.MIME = listing.MIMEByExtension(info.Name())
	entry.Paths.Remote = s.remoteURL("media", rel)

	if info.Size() <= s.maxHashBytes {
		if sum, err := hashFile(abs); err == nil {
			entry.Hash = sum
		}
	}
	if listing.Classify(entry.MIME) == "image" && info.Size() <= s.maxHashBytes {
		if meta := extractFileMeta(abs); meta != nil {
			entry.Meta = meta.JSON()
		}
	}
	return entry
}

// collectionOf derives the collection from the first path segment: files at
// the root belong to no collection, everything else to its top directory.
func collectionOf(rel string) string {
	i := strings.IndexByte(rel, '/')
	if i < 0 {
		return ""
	}
	return rel[:i]
}

func (s *Synchronizer) remoteURL(endpoint, rel string) string {
	segs := strings.Split(rel, "/")
	escaped := make([]string, 0, len(segs))
	for _, seg := range segs {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return s.baseURL + "/api/v1/" + endpoint + "/" + strings.Join(escaped, "/")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}

func extractFileMeta(path string) *ImageMeta {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	meta, err := ExtractImageMeta(f)
	if err != nil {
		return nil
	}
	return meta
}
