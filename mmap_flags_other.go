//go:build !(linux && amd64)

package shadow

// Elsewhere there is no portable way to ask for low addresses. Patching
// reports an error if the arena lands out of jump range.
const mapFlags = 0
