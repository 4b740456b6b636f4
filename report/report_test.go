package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type hookError struct {
	method string
}

func (e *hookError) Error() string {
	return "cannot hook " + e.method
}

func newTestHub(t *testing.T) (*Hub, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	h := NewHub(filepath.Join(t.TempDir(), "ShadowReports"), zap.New(core))
	h.now = func() time.Time {
		return time.Date(2026, time.March, 2, 14, 5, 9, 0, time.UTC)
	}
	return h, logs
}

func TestHub_Reporter(t *testing.T) {
	h, _ := newTestHub(t)

	a := h.Reporter("Lizards")
	b := h.Reporter("Scavengers")
	assert.Same(t, a, h.Reporter("Lizards"))
	assert.Equal(t, 0, a.Ordinal())
	assert.Equal(t, 1, b.Ordinal())
	assert.Equal(t, "Scavengers", b.Plugin())
}

func TestHub_FlushNothing(t *testing.T) {
	h, _ := newTestHub(t)
	h.Reporter("Lizards")

	summary, err := h.Flush()
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.True(t, h.TooLate())

	_, err = os.Stat(h.dir)
	assert.True(t, os.IsNotExist(err), "no reports directory without errors")
}

func TestHub_Flush(t *testing.T) {
	h, _ := newTestHub(t)
	r := h.Reporter("Lizard Tweaks")

	assert.True(t, r.Defer(&hookError{method: "Update"}, "installing overrides"))
	assert.True(t, r.Defer(errors.New("bad config"), ""))
	assert.True(t, h.HasErrors())

	summary, err := h.Flush()
	require.NoError(t, err)
	assert.Contains(t, summary, h.dir)
	assert.Contains(t, summary, "[*report.hookError] cannot hook Update\n")
	assert.Contains(t, summary, "[*errors.errorString] bad config\n")

	files, err := filepath.Glob(filepath.Join(h.dir, "Lizard_Tweaks-0000-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Date: Monday, 02 March 2026 (UTC)\n")
	assert.Contains(t, text, "Time: 14:05:09 (UTC)\n")
	assert.Contains(t, text, "Plugin: Lizard Tweaks\n")
	assert.Contains(t, text, "\tERROR NO. 1\n\tCONTEXT: No additional context was provided.\n\t\t[*errors.errorString]: bad config\n")
	assert.Contains(t, text, "\tERROR NO. 2\n\tCONTEXT: installing overrides\n\t\t[*report.hookError]: cannot hook Update\n")

	summary, err = h.Flush()
	require.NoError(t, err)
	assert.Empty(t, summary, "only the first flush reports")
}

func TestReporter_TooLate(t *testing.T) {
	h, logs := newTestHub(t)
	r := h.Reporter("Lizards")

	_, err := h.Flush()
	require.NoError(t, err)

	assert.False(t, r.Defer(errors.New("late"), ""))
	assert.False(t, h.HasErrors())
	assert.Equal(t, 1, logs.FilterMessage("error reported after loading completed").Len())
}

func TestHub_FlushWriteFailure(t *testing.T) {
	h, logs := newTestHub(t)

	// A file where the directory should be.
	require.NoError(t, os.WriteFile(h.dir, nil, 0o644))

	h.Reporter("Lizards").Defer(errors.New("boom"), "")
	summary, err := h.Flush()
	assert.Error(t, err)
	assert.Contains(t, summary, "boom", "the summary is still returned")
	assert.Equal(t, 1, logs.FilterMessage("failed to save crash report").Len())
}

func TestWriteError(t *testing.T) {
	inner := &hookError{method: "Health"}
	err := errors.Join(
		fmt.Errorf("binding: %w", inner),
		errors.New("second"),
	)

	var buf bytes.Buffer
	iw := &indentWriter{w: &buf}
	writeError(iw, err)
	require.NoError(t, iw.err)

	want := "[Multiple errors...]\n" +
		"Caused by...\n" +
		"\t[*fmt.wrapError]: binding: cannot hook Health\n" +
		"\n" +
		"\t\tCaused by...\n" +
		"\t\t[*report.hookError]: cannot hook Health\n" +
		"\t[*errors.errorString]: second\n"
	assert.Equal(t, want, buf.String())
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "plugin", fileSafe(""))
	assert.Equal(t, "a_b_c", fileSafe("a/b:c"))
}
