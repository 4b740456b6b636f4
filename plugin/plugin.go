// Package plugin wires a mod's shadowed overrides to the rest of the mod
// runtime: settings, logging, error reports and save data.
package plugin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xansworks/shadow"
	"github.com/xansworks/shadow/config"
	"github.com/xansworks/shadow/internal/xlog"
	"github.com/xansworks/shadow/report"
	"github.com/xansworks/shadow/savedata"
)

type Options struct {
	// Name identifies the plugin in logs and crash reports.
	Name string

	// ConfigPath is the settings file. A missing file means defaults.
	ConfigPath string

	// Interceptor hooks the original members. When nil a Detour is used,
	// or a CallTable where a Detour is not available.
	Interceptor shadow.Interceptor

	// Types are checked for shadowed override declarations.
	Types []reflect.Type

	// Hub collects errors from every plugin. When nil the plugin gets a hub
	// of its own in the configured reports directory.
	Hub *report.Hub

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer
}

// Plugin is a loaded mod.
type Plugin struct {
	Name        string
	Config      config.Config
	Log         *zap.Logger
	Hub         *report.Hub
	Reporter    *report.Reporter
	SaveData    *savedata.Store
	Interceptor shadow.Interceptor
	Installer   *shadow.Installer

	trace atomic.Bool
}

// Load builds a plugin and installs the overrides declared by opts.Types.
//
// When installation fails the error is also deferred to the plugin's
// reporter and the plugin is returned along with the error, so the caller
// can still flush the hub.
func Load(opts Options) (*Plugin, error) {
	if opts.Name == "" {
		return nil, errors.New("plugin: a name is required")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", opts.Name, err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	log, err := xlog.NewWriter(cfg.Log, out)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", opts.Name, err)
	}
	log = log.Named(opts.Name)

	p := &Plugin{
		Name:     opts.Name,
		Config:   cfg,
		Log:      log,
		Hub:      opts.Hub,
		SaveData: savedata.NewStore(savedata.WithKey(cfg.SaveData.Key)),
	}
	p.trace.Store(cfg.Log.Trace)
	if p.Hub == nil {
		p.Hub = report.NewHub(cfg.Reports.Dir, log.Named("report"))
	}
	p.Reporter = p.Hub.Reporter(opts.Name)

	p.Interceptor = opts.Interceptor
	if p.Interceptor == nil {
		p.Interceptor = defaultInterceptor(log)
	}

	p.Installer = shadow.NewInstaller(p.Interceptor,
		shadow.WithLogger(log),
		shadow.WithTrace(p.trace.Load),
	)
	if err := p.Installer.Install(opts.Types...); err != nil {
		p.Reporter.Defer(err, "installing shadowed overrides")
		return p, fmt.Errorf("plugin %s: %w", opts.Name, err)
	}
	return p, nil
}

// defaultInterceptor gives each plugin its own Detour. Detours share the
// process wide patch table, so plugins hooking the same original coexist.
func defaultInterceptor(log *zap.Logger) shadow.Interceptor {
	d, err := shadow.NewDetour(shadow.DetourLogger(log.Named("detour")))
	if err == nil {
		return d
	}
	if !errors.Is(err, shadow.ErrUnsupported) {
		log.Warn("falling back to a call table", zap.Error(err))
	} else {
		log.Info("direct calls will not be intercepted", zap.Error(err))
	}
	return shadow.NewCallTable()
}

// LoadSave reads the plugin's data out of the host's save strings. A save
// without mod data leaves the store empty.
func (p *Plugin) LoadSave(saveStrings []string) error {
	found, err := p.SaveData.ImportFrom(saveStrings)
	if err != nil {
		p.Log.Error("failed to load save data", zap.Error(err))
		return err
	}
	p.Log.Debug("loaded save data", zap.Bool("found", found), zap.Int("entries", len(p.SaveData.Entries())))
	return nil
}

// Save writes the plugin's data into the host's save strings.
func (p *Plugin) Save(saveStrings []string) ([]string, error) {
	out, err := p.SaveData.ExportInto(saveStrings)
	if err != nil {
		p.Log.Error("failed to save data", zap.Error(err))
		return saveStrings, err
	}
	return out, nil
}

// EndCycle drops cycle scoped save data.
func (p *Plugin) EndCycle() {
	p.SaveData.Clear(savedata.Cycle)
	if p.Tracing() {
		p.Log.Debug("cleared cycle save data", zap.String("trace", "EndCycle"))
	}
}

// SetTrace turns trace logging on or off. Trace lines are written at debug
// level and only show when the configured level allows it.
func (p *Plugin) SetTrace(on bool) {
	p.trace.Store(on)
}

func (p *Plugin) Tracing() bool {
	return p.trace.Load()
}

// Close undoes any machine code patches and flushes the log.
func (p *Plugin) Close() error {
	var err error
	if r, ok := p.Interceptor.(interface{ Restore() error }); ok {
		err = r.Restore()
	}
	// Sync fails on some terminals; there is nothing to do about it.
	_ = p.Log.Sync()
	return err
}
