// Turn shadowed methods into overrides
//
// Go has no virtual methods. A mod type that embeds a host type can declare
// a method with the same name as one of the host's, but host code holding
// the embedded value still calls its own method. This package makes such a
// shadowed method behave like an override: once installed, calls to the
// host method whose receiver belongs to the mod type are redirected to the
// mod's method, and every other receiver keeps the original behavior.
//
// A mod type declares its shadowed overrides by implementing Shadower:
//
//	type Lizard struct {
//		*host.Creature
//	}
//
//	func (*Lizard) ShadowedOverrides() []shadow.Declaration {
//		return []shadow.Declaration{shadow.Method("Update"), shadow.Property("Health")}
//	}
//
// An Installer checks that every shadow is interchangeable with the member
// it hides, records the binding and hooks the original through an
// Interceptor. The host's receiver is an embedded value, so the outer
// object is found through a Tracker that the mod adopts its objects into.
//
// Two interceptors are provided. CallTable suits host code that dispatches
// through it. Detour rewrites the machine code of the original so direct
// calls are intercepted too.
//
// Limitations:
//   - Detour only supports amd64 and relies on internal Go APIs that can
//     break at any time
//   - Inlined methods cannot be detoured
//   - The original body runs from a relocated copy the runtime does not
//     know about; if it has to grow the stack the program crashes
//   - Interface methods and value receivers cannot be redirected
package shadow
