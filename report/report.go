// Package report collects errors raised while plugins initialize and
// writes them out once loading is done.
//
// Plugins report through their own Reporter. Errors are held until the
// host's loader calls Flush, which writes one crash report per plugin and
// returns a summary fit for a dialog. After Flush it is too late to report;
// later errors are only logged.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const summaryHead = "One or more errors occurred while loading shadowed overrides. " +
	"The affected plugins will be disabled the next time the game runs.\n\n" +
	"A detailed log has been saved to %s. Please send it to the plugin's developers.\n\n"

// Hub owns every Reporter and the reports directory.
type Hub struct {
	dir string
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	tooLate   bool
	flushed   bool
	reporters []*Reporter
}

func NewHub(dir string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{dir: dir, log: log, now: time.Now}
}

// Reporter returns the reporter of plugin, creating it on first use.
func (h *Hub) Reporter(plugin string) *Reporter {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.reporters {
		if r.plugin == plugin {
			return r
		}
	}
	r := &Reporter{hub: h, plugin: plugin, ordinal: len(h.reporters)}
	h.reporters = append(h.reporters, r)
	return r
}

// TooLate reports whether loading has finished. Deferred errors are
// dropped from then on.
func (h *Hub) TooLate() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tooLate
}

func (h *Hub) HasErrors() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.reporters {
		if len(r.errs) > 0 {
			return true
		}
	}
	return false
}

// Flush marks loading as finished and writes a crash report for every
// plugin that reported errors. It returns the summary to show the user, or
// "" when there is nothing to show. Only the first call writes anything.
//
// A report that cannot be written is logged and the rest are still written;
// the joined write errors are returned with the summary.
func (h *Hub) Flush() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tooLate = true
	if h.flushed {
		return "", nil
	}

	var (
		summary strings.Builder
		errs    []error
	)
	for _, r := range h.reporters {
		if len(r.errs) == 0 {
			continue
		}
		for _, d := range r.errs {
			fmt.Fprintf(&summary, "[%s] %s\n", typeName(d.cause), d.cause)
		}
		path, err := h.write(r)
		if err != nil {
			h.log.Error("failed to save crash report", zap.String("plugin", r.plugin), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		h.log.Info("saved crash report", zap.String("plugin", r.plugin), zap.String("path", path))
	}
	if summary.Len() == 0 {
		return "", nil
	}
	h.flushed = true

	h.log.Debug("errors were reported during loading", zap.Int("plugins", len(h.reporters)))
	return fmt.Sprintf(summaryHead, h.dir) + summary.String(), errors.Join(errs...)
}

// write saves the report of r. The caller holds h.mu.
func (h *Hub) write(r *Reporter) (string, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", fmt.Errorf("reports directory: %w", err)
	}

	path := filepath.Join(h.dir, fmt.Sprintf("%s-%04d-%s.log", fileSafe(r.plugin), r.ordinal, uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := writeReport(f, r, h.now().UTC()); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, f.Close()
}

// Reporter holds the errors of one plugin.
type Reporter struct {
	hub     *Hub
	plugin  string
	ordinal int

	// Guarded by hub.mu.
	errs []deferred
}

type deferred struct {
	cause   error
	context string
}

func (r *Reporter) Plugin() string {
	return r.plugin
}

func (r *Reporter) Ordinal() int {
	return r.ordinal
}

// Defer holds cause until the hub is flushed. context says where or why it
// happened and may be empty. It reports whether the error was kept.
func (r *Reporter) Defer(cause error, context string) bool {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tooLate {
		h.log.Warn("error reported after loading completed",
			zap.String("plugin", r.plugin),
			zap.Error(cause),
		)
		return false
	}

	h.log.Debug("error reported", zap.String("plugin", r.plugin), zap.Error(cause))
	r.errs = append(r.errs, deferred{cause: cause, context: context})
	return true
}

func writeReport(w io.Writer, r *Reporter, now time.Time) error {
	iw := &indentWriter{w: w}
	iw.line("Date: %s (UTC)", now.Format("Monday, 02 January 2006"))
	iw.line("Time: %s (UTC)", now.Format("15:04:05"))
	iw.line("Plugin: %s", r.plugin)
	iw.line("")
	iw.line("BEGIN REPORT ::")

	// Most recent first.
	for i := range r.errs {
		d := r.errs[len(r.errs)-1-i]
		context := d.context
		if strings.TrimSpace(context) == "" {
			context = "No additional context was provided."
		}

		iw.indent++
		iw.line("ERROR NO. %d", i+1)
		iw.line("CONTEXT: %s", context)
		iw.indent++
		writeError(iw, d.cause)
		iw.indent -= 2
	}
	return iw.err
}

// writeError writes err and the errors it wraps.
func writeError(iw *indentWriter, err error) {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		iw.line("[Multiple errors...]")
		iw.line("Caused by...")
		iw.indent++
		for _, e := range multi.Unwrap() {
			writeError(iw, e)
		}
		iw.indent--
		return
	}

	iw.line("[%s]: %v", typeName(err), err)
	if inner := errors.Unwrap(err); inner != nil {
		iw.indent++
		iw.line("")
		iw.line("Caused by...")
		writeError(iw, inner)
		iw.indent--
	}
}

func typeName(err error) string {
	return fmt.Sprintf("%T", err)
}

// fileSafe replaces characters that cannot appear in file names.
func fileSafe(name string) string {
	if name == "" {
		return "plugin"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// indentWriter writes tab-indented lines and keeps the first error.
type indentWriter struct {
	w      io.Writer
	indent int
	err    error
}

func (iw *indentWriter) line(format string, args ...any) {
	if iw.err != nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	if text == "" {
		_, iw.err = io.WriteString(iw.w, "\n")
		return
	}
	prefix := strings.Repeat("\t", iw.indent)
	for _, l := range strings.Split(text, "\n") {
		if _, iw.err = io.WriteString(iw.w, prefix+l+"\n"); iw.err != nil {
			return
		}
	}
}
