package shadow

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle of an Installer.
type State uint8

const (
	StateUninitialized State = iota
	StateInstalling
	StateInstalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Installer turns the shadowed overrides declared by mod types into real
// overrides. It registers each binding and then hooks the original member
// through an Interceptor.
type Installer struct {
	ic       Interceptor
	log      *zap.Logger
	trace    tracer
	registry *Registry
	tracker  *Tracker
	resolver Resolver
	synth    *Synthesizer

	mu     sync.Mutex
	state  State
	routes map[MemberKey]*Route
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger. Fatal entries never exit the process.
func WithLogger(log *zap.Logger) Option {
	return func(in *Installer) {
		in.log = log
	}
}

// WithTrace enables trace logging whenever enabled returns true.
func WithTrace(enabled func() bool) Option {
	return func(in *Installer) {
		in.trace.enabled = enabled
	}
}

// WithRegistry uses r instead of a private registry.
func WithRegistry(r *Registry) Option {
	return func(in *Installer) {
		in.registry = r
	}
}

// WithTracker uses t to find the outer objects of hooked receivers.
func WithTracker(t *Tracker) Option {
	return func(in *Installer) {
		in.tracker = t
	}
}

// WithAnnotations supplies parameter modifiers for signature checks.
func WithAnnotations(a *Annotations) Option {
	return func(in *Installer) {
		in.resolver.Annotations = a
	}
}

func NewInstaller(ic Interceptor, opts ...Option) *Installer {
	in := &Installer{
		ic:     ic,
		synth:  NewSynthesizer(),
		routes: map[MemberKey]*Route{},
	}
	for _, opt := range opts {
		opt(in)
	}
	in.log = nonExiting(in.log)
	in.trace.log = in.log
	if in.registry == nil {
		in.registry = NewRegistry()
	}
	if in.tracker == nil {
		in.tracker = NewTracker()
	}
	return in
}

func (in *Installer) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Installer) Registry() *Registry {
	return in.registry
}

func (in *Installer) Tracker() *Tracker {
	return in.tracker
}

// Synthesizer returns the trampoline cache shared by every hook.
func (in *Installer) Synthesizer() *Synthesizer {
	return in.synth
}

var shadowerType = reflect.TypeFor[Shadower]()

// Install validates, registers and hooks the shadowed overrides of every
// type that implements Shadower. Other types are skipped. It may only run
// once; the first invalid declaration stops it and is returned. Bindings
// made before the failure stay in place.
func (in *Installer) Install(types ...reflect.Type) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateUninitialized {
		return fmt.Errorf("install: %w (state %v)", ErrAlreadyInstalled, in.state)
	}
	in.state = StateInstalling

	in.log.Info("collecting shadowed overrides", zap.Int("types", len(types)))

	for _, t := range types {
		inheriting := normalizeOwner(t)
		for _, d := range in.declarations(inheriting) {
			in.trace.Trace("installing shadowed override",
				zap.Stringer("declaration", d),
				zap.Stringer("inheriting", inheriting),
			)
			if err := in.installOne(inheriting, d); err != nil {
				in.state = StateFailed
				in.log.Fatal("shadowed override could not be installed",
					zap.Stringer("inheriting", inheriting),
					zap.Stringer("declaration", d),
					zap.Error(err),
				)
				return fmt.Errorf("%v: %v: %w", inheriting, d, err)
			}
		}
	}

	in.state = StateInstalled
	in.log.Info("installed shadowed overrides",
		zap.Int("bindings", in.registry.Len()),
		zap.Int("hooks", len(in.routes)),
		zap.Int("trampolines", in.synth.Len()),
	)
	return nil
}

// declarations returns what t declares through Shadower. A Shadower method
// promoted from an embedded type belongs to that type, not to t.
func (in *Installer) declarations(t reflect.Type) []Declaration {
	if t == nil {
		return nil
	}
	if t.Kind() != reflect.Pointer || !t.Implements(shadowerType) {
		in.trace.Trace("type declares no shadowed overrides", zap.Stringer("type", t))
		return nil
	}
	if !declaredOn(t, "ShadowedOverrides") {
		in.trace.Trace("skipping promoted override declarations", zap.Stringer("type", t))
		return nil
	}
	return reflect.New(t.Elem()).Interface().(Shadower).ShadowedOverrides()
}

func (in *Installer) installOne(inheriting reflect.Type, d Declaration) error {
	if d.Property {
		pair, err := in.resolver.ValidateProperty(inheriting, d)
		if err != nil {
			return err
		}
		for _, mp := range pair.Pairs() {
			if err := in.bind(inheriting, mp); err != nil {
				return err
			}
		}
		return nil
	}

	mp, err := in.resolver.ValidateMethod(inheriting, d)
	if err != nil {
		return err
	}
	return in.bind(inheriting, mp)
}

// bind registers mp and hooks its original. The registry entry is written
// before the hook exists, so a hooked call never misses it.
func (in *Installer) bind(inheriting reflect.Type, mp MethodPair) error {
	if err := in.registry.Register(inheriting, mp.Original, mp.Override); err != nil {
		return err
	}

	key := mp.Original.Key()
	rt, hooked := in.routes[key]
	if !hooked {
		rt = NewRoute(in.registry, in.tracker)
	}
	rt.Mark(inheriting)

	if !hooked {
		tramp := in.synth.For(mp.Original.Shape())
		err := in.ic.Prefix(mp.Original, func(c *Call) bool {
			return tramp(rt, c)
		})
		if err != nil {
			return err
		}
		in.routes[key] = rt
	}

	in.log.Info("patched shadowed override",
		zap.Stringer("original", mp.Original),
		zap.Stringer("override", mp.Override),
		zap.Stringer("inheriting", inheriting),
	)
	return nil
}
