// Package ingest runs the batch job that turns a directory tree of raw
// message files into the normalized corpus. Phase one decodes, resolves,
// and extracts in parallel across files; phase two reconstructs threads
// over the complete batch behind a barrier. One malformed file never
// aborts the run.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailcorpus/mailcorpus/internal/blob"
	"github.com/mailcorpus/mailcorpus/internal/decoder"
	"github.com/mailcorpus/mailcorpus/internal/entity"
	"github.com/mailcorpus/mailcorpus/internal/metrics"
	"github.com/mailcorpus/mailcorpus/internal/sanitizer"
	"github.com/mailcorpus/mailcorpus/internal/store"
	"github.com/mailcorpus/mailcorpus/internal/thread"
)

// Failure classes, used for counters and logs.
const (
	FailureDecode     = "decode"
	FailureAddress    = "address"
	FailureDate       = "date"
	FailureAttachment = "attachment"
	FailureStore      = "store"
)

// Options configures one ingestion run.
type Options struct {
	// Root is the directory tree to ingest; the path of each file
	// relative to Root becomes its message's folder label.
	Root string
	// Workers bounds the phase-one pool. Zero means one worker.
	Workers int
	// BatchSize is how many files share one store transaction.
	BatchSize int
	// OwnerAddresses mark messages whose sender matches as sent.
	OwnerAddresses []string
	// Blob, when non-nil, mirrors attachment payloads at or above
	// MirrorThreshold bytes.
	Blob            *blob.Store
	MirrorThreshold int64
}

// FileResult is the per-file outcome surfaced in the run report.
type FileResult struct {
	Path     string
	Messages int
	Error    string
}

// Report summarizes a completed run.
type Report struct {
	FilesSeen      int
	MessagesStored int
	Entities       int
	ThreadLinks    int
	Failures       map[string]int
	Files          []FileResult
	Elapsed        time.Duration
}

// Runner executes ingestion runs against one store.
type Runner struct {
	store    *store.Store
	decoder  *decoder.Decoder
	registry *entity.Registry
	sanitize *sanitizer.HTMLSanitizer
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	failures map[string]int
	files    []FileResult
}

// NewRunner builds a Runner. The registry is fresh per runner: entity
// deduplication is scoped to the corpus the store holds, and upserts merge
// with whatever previous runs recorded.
func NewRunner(st *store.Store, opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	return &Runner{
		store:    st,
		decoder:  decoder.New(),
		registry: entity.NewRegistry(),
		sanitize: sanitizer.New(),
		opts:     opts,
		log:      log,
		failures: make(map[string]int),
	}
}

// Run ingests the tree and reconstructs threads. The returned Report is
// complete even when individual files failed.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	paths, err := r.collectFiles()
	if err != nil {
		return nil, err
	}

	phase1 := time.Now()
	stored := r.runPhaseOne(ctx, paths)
	metrics.IngestDuration.WithLabelValues("decode").Observe(time.Since(phase1).Seconds())

	if err := r.store.UpsertEntities(ctx, r.registry.All()); err != nil {
		return nil, fmt.Errorf("ingest: entity upsert: %w", err)
	}
	metrics.EntitiesResolved.Set(float64(r.registry.Len()))

	phase2 := time.Now()
	links, err := r.runPhaseTwo(ctx)
	if err != nil {
		return nil, err
	}
	metrics.IngestDuration.WithLabelValues("thread").Observe(time.Since(phase2).Seconds())
	metrics.ThreadLinks.Set(float64(links))

	report := &Report{
		FilesSeen:      len(paths),
		MessagesStored: stored,
		Entities:       r.registry.Len(),
		ThreadLinks:    links,
		Failures:       r.failures,
		Files:          r.files,
		Elapsed:        time.Since(start),
	}
	r.log.Info("ingestion complete",
		"files", report.FilesSeen,
		"messages", report.MessagesStored,
		"entities", report.Entities,
		"thread_links", report.ThreadLinks,
		"elapsed", report.Elapsed,
	)
	return report, nil
}

func (r *Runner) collectFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(r.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: walk %s: %w", r.opts.Root, err)
	}
	return paths, nil
}

// runPhaseOne decodes files in parallel and commits records in batches.
// Workers share nothing mutable except the entity registry, which locks
// internally.
func (r *Runner) runPhaseOne(ctx context.Context, paths []string) int {
	type result struct {
		path string
		rec  *store.MessageRecord
		err  error
	}

	work := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range work {
				rec, err := r.decodeFile(path)
				results <- result{path: path, rec: rec, err: err}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, path := range paths {
			select {
			case work <- path:
			case <-ctx.Done():
				// Stop launching new units; in-flight files drain.
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	stored := 0
	batch := make([]*store.MessageRecord, 0, r.opts.BatchSize)
	batchPaths := make([]string, 0, r.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Entities referenced by this batch must exist before the message
		// rows that point at them.
		if err := r.store.UpsertEntities(ctx, r.registry.All()); err != nil {
			r.countFailure(FailureStore)
			r.log.Error("entity upsert failed", "error", err)
			for _, p := range batchPaths {
				r.recordFile(FileResult{Path: p, Error: "store: batch rolled back"})
			}
			batch = batch[:0]
			batchPaths = batchPaths[:0]
			return
		}
		if err := r.store.InsertMessages(ctx, batch); err != nil {
			// The whole batch unit rolls back; re-running it is safe
			// because inserts are idempotent per message-id.
			r.countFailure(FailureStore)
			r.log.Error("batch commit failed", "files", len(batch), "error", err)
			for _, p := range batchPaths {
				r.recordFile(FileResult{Path: p, Error: "store: batch rolled back"})
			}
		} else {
			stored += len(batch)
			for _, rec := range batch {
				metrics.MessagesIngested.WithLabelValues(rec.Folder).Inc()
			}
			for _, p := range batchPaths {
				r.recordFile(FileResult{Path: p, Messages: 1})
			}
		}
		batch = batch[:0]
		batchPaths = batchPaths[:0]
	}

	for res := range results {
		if res.err != nil {
			r.countFailure(FailureDecode)
			r.recordFile(FileResult{Path: res.path, Error: res.err.Error()})
			r.log.Warn("file skipped", "path", res.path, "error", res.err)
			continue
		}
		batch = append(batch, res.rec)
		batchPaths = append(batchPaths, res.path)
		if len(batch) >= r.opts.BatchSize {
			flush()
		}
	}
	flush()
	return stored
}

// decodeFile runs the full per-file pipeline: decode, resolve entities,
// extract attachments, build the write record.
func (r *Runner) decodeFile(path string) (*store.MessageRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	msg, err := r.decoder.Decode(raw)
	if err != nil {
		return nil, err
	}
	if msg.DateMissing {
		r.countFailure(FailureDate)
	}

	senders := r.registry.ResolveHeader(msg.From)
	var senderAddress string
	if len(senders) > 0 {
		senderAddress = senders[0].Address.String()
	} else if msg.From != "" {
		r.countFailure(FailureAddress)
	}

	rec := &store.MessageRecord{
		ID:            uuid.New(),
		MessageID:     msg.MessageID,
		InReplyTo:     msg.InReplyTo,
		References:    strings.Join(msg.References, " "),
		Subject:       msg.Subject,
		Body:          msg.BodyText,
		BodyHTML:      r.sanitize.Sanitize(msg.BodyHTML),
		Timestamp:     msg.Date,
		Folder:        r.folderLabel(path),
		SenderAddress: senderAddress,
	}
	rec.Direction = r.direction(senderAddress, rec.Folder)
	rec.IsSpam = isSpamFolder(rec.Folder) || msg.Headers["X-Spam-Flag"] == "YES"
	rec.IsDeleted = isTrashFolder(rec.Folder)

	for _, kind := range []struct {
		header string
		kind   string
	}{
		{msg.To, store.KindTo},
		{msg.Cc, store.KindCc},
		{msg.Bcc, store.KindBcc},
	} {
		for _, ent := range r.registry.ResolveHeader(kind.header) {
			rec.Recipients = append(rec.Recipients, store.RecipientRef{
				Address: ent.Address.String(),
				Kind:    kind.kind,
			})
		}
	}
	// Reply-To identities join the table even though the message row only
	// references the sender.
	r.registry.ResolveHeader(msg.ReplyTo)

	if msg.MailingList != nil {
		rec.MailingList = &store.MailingListRow{
			ListID:  msg.MailingList.ID,
			Name:    msg.MailingList.Name,
			Address: msg.MailingList.Address,
		}
		if msg.MailingList.Address != "" {
			if addr, err := entity.ParseEmailAddress(msg.MailingList.Address); err == nil {
				r.registry.Upsert(msg.MailingList.Name, addr)
				r.registry.MarkOrganization(addr)
			}
		}
	}

	for _, att := range msg.Attachments {
		record := store.AttachmentRecord{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			Content:     att.Content,
		}
		if len(att.Content) == 0 {
			r.countFailure(FailureAttachment)
		}
		r.mirrorAttachment(rec.ID, &record)
		rec.Attachments = append(rec.Attachments, record)
		metrics.AttachmentsExtracted.Inc()
	}

	return rec, nil
}

// mirrorAttachment pushes large payloads to the blob store. Failures only
// log; the inline copy is authoritative.
func (r *Runner) mirrorAttachment(messageID uuid.UUID, att *store.AttachmentRecord) {
	if r.opts.Blob == nil || att.Size < r.opts.MirrorThreshold {
		return
	}
	key, err := r.opts.Blob.Put(context.Background(), messageID, att.Filename, att.ContentType, att.Content)
	if err != nil {
		r.log.Warn("attachment mirror failed", "filename", att.Filename, "error", err)
		return
	}
	att.StorageKey = key
}

// runPhaseTwo reconstructs threads over everything the store now holds and
// serializes the parent-link writes.
func (r *Runner) runPhaseTwo(ctx context.Context) (int, error) {
	nodes, err := r.store.ListForThreading(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: threading load: %w", err)
	}
	links := thread.Reconstruct(nodes)
	if err := r.store.ApplyParentLinks(ctx, links); err != nil {
		return 0, fmt.Errorf("ingest: threading write: %w", err)
	}
	return len(links), nil
}

func (r *Runner) folderLabel(path string) string {
	rel, err := filepath.Rel(r.opts.Root, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	return filepath.ToSlash(dir)
}

func (r *Runner) direction(senderAddress, folder string) string {
	for _, owner := range r.opts.OwnerAddresses {
		if strings.EqualFold(owner, senderAddress) {
			return store.DirectionSent
		}
	}
	if isSentFolder(folder) {
		return store.DirectionSent
	}
	return store.DirectionReceived
}

func isSentFolder(folder string) bool {
	f := strings.ToLower(folder)
	return strings.Contains(f, "sent") || strings.Contains(f, "envoy")
}

func isSpamFolder(folder string) bool {
	f := strings.ToLower(folder)
	return strings.Contains(f, "spam") || strings.Contains(f, "junk") ||
		strings.Contains(f, "indésirable")
}

func isTrashFolder(folder string) bool {
	f := strings.ToLower(folder)
	return strings.Contains(f, "trash") || strings.Contains(f, "deleted") ||
		strings.Contains(f, "corbeille")
}

func (r *Runner) countFailure(class string) {
	metrics.IngestFailures.WithLabelValues(class).Inc()
	r.mu.Lock()
	r.failures[class]++
	r.mu.Unlock()
}

func (r *Runner) recordFile(res FileResult) {
	r.mu.Lock()
	r.files = append(r.files, res)
	r.mu.Unlock()
}
