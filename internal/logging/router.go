package logging

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// handler is one category's append-only destination plus the predicate
// that decides whether a given record belongs in it.
type handler struct {
	name        Category
	shouldWrite func(Record) bool
	file        *rotatingFile
}

func (h *handler) write(r Record) error {
	return h.file.writeLine(formatLine(r))
}

// RouterConfig configures where category files live and how large they may
// grow before being rotated.
type RouterConfig struct {
	Dir          string
	MaxFileBytes int64
	QueueSize    int
	// Console receives every record as a structured slog event in addition
	// to its category file; may be nil to disable console echo.
	Console *slog.Logger
}

// Router is the categorizing LogSink: emit(record) maps the record to a
// category by scanning its heading against an ordered keyword table, then
// fans it out to every handler whose predicate matches.
type Router struct {
	cfg      RouterConfig
	handlers []*handler
	byName   map[Category]*handler

	queue   chan Record
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	inHandler bool
}

// NewRouter opens one rotating file per declared category under cfg.Dir and
// starts the background drain goroutine. Handlers are registered in the
// fixed category order; a record may fan out to more than one handler if a
// caller later registers an additional predicate-based handler via
// RegisterHandler.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./basic_logs"
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	r := &Router{
		cfg:    cfg,
		byName: make(map[Category]*handler),
		queue:  make(chan Record, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	categories := []Category{
		CategoryMCPServer,
		CategoryAPICall,
		CategoryToolExecution,
		CategoryAgentWorkflow,
		CategoryErrorTraceback,
		CategoryOther,
	}
	for _, cat := range categories {
		cat := cat
		path := filepath.Join(cfg.Dir, fmt.Sprintf("log_%s.txt", cat))
		file, err := newRotatingFile(path, cfg.MaxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("open category file for %s: %w", cat, err)
		}
		h := &handler{
			name: cat,
			shouldWrite: func(rec Record) bool {
				return rec.Category == cat
			},
			file: file,
		}
		r.handlers = append(r.handlers, h)
		r.byName[cat] = h
	}

	r.wg.Add(1)
	go r.drain()

	return r, nil
}

// Emit enqueues a record for routing. It never blocks beyond a bounded
// channel push: if the queue is full the oldest queued record is dropped
// to make room, and the drop counter is incremented. Emit never panics.
func (r *Router) Emit(rec Record) {
	defer func() { recover() }()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case r.queue <- rec:
		return
	default:
	}
	select {
	case <-r.queue:
		r.dropped.Add(1)
	default:
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of records dropped so far due to queue overflow.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Router) drain() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.route(rec)
		case <-r.done:
			// Drain whatever remains before exiting.
			for {
				select {
				case rec := <-r.queue:
					r.route(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(rec Record) {
	if rec.Category == "" {
		rec.Category = Classify(rec.Heading)
	}

	if r.cfg.Console != nil {
		r.echoConsole(rec)
	}

	r.mu.Lock()
	reentrant := r.inHandler
	if !reentrant {
		r.inHandler = true
	}
	r.mu.Unlock()

	for _, h := range r.handlers {
		if !h.shouldWrite(rec) {
			continue
		}
		if err := h.write(rec); err != nil && !reentrant {
			// Recursion guard: this failure record is written raw by the
			// branch above on the next call since inHandler is already
			// true; the guard releases once this route() returns.
			r.Emit(Record{
				Level:    LevelError,
				Category: CategoryErrorTraceback,
				Heading:  "ERROR log handler write failed",
				Body:     fmt.Sprintf("category=%s err=%v", h.name, err),
			})
		}
	}

	if !reentrant {
		r.mu.Lock()
		r.inHandler = false
		r.mu.Unlock()
	}
}

func (r *Router) echoConsole(rec Record) {
	level := slog.LevelInfo
	switch rec.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	attrs := make([]any, 0, 2+2*len(rec.Metadata))
	attrs = append(attrs, "category", string(rec.Category), "body", rec.Body)
	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, rec.Metadata[k])
	}
	r.cfg.Console.Log(context.Background(), level, rec.Heading, attrs...)
}

// formatLine renders a record in the declared log-file format:
//
//	[<ISO-8601-timestamp>]\t<LEVEL> - <CATEGORY>: \t<heading> | <body> \tMetadata: [ k=v, k=v ]
func formatLine(r Record) string {
	var meta strings.Builder
	meta.WriteString("Metadata: [ ")
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			meta.WriteString(", ")
		}
		fmt.Fprintf(&meta, "%s=%s", k, r.Metadata[k])
	}
	meta.WriteString(" ]")

	return fmt.Sprintf("[%s]\t%s - %s: \t%s | %s \t%s\n",
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level, r.Category, r.Heading, r.Body, meta.String())
}

// Close stops the drain goroutine after flushing the queue and closes every
// category file. Safe to call once during shutdown.
func (r *Router) Close() error {
	close(r.done)
	r.wg.Wait()
	var firstErr error
	for _, h := range r.handlers {
		if err := h.file.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
