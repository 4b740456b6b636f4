//go:build !amd64

package shadow

import (
	"reflect"
	"runtime"

	"go.uber.org/zap"
)

// Detour patches machine code and is only available on amd64. Use a
// CallTable elsewhere.
type Detour struct{}

type DetourOption func(*Detour)

func DetourLogger(*zap.Logger) DetourOption {
	return func(*Detour) {}
}

func NewDetour(...DetourOption) (*Detour, error) {
	return nil, &UnsupportedError{Member: "detour", Reason: "machine code patching is not implemented for " + runtime.GOARCH}
}

func (d *Detour) Prefix(original *Member, _ Prefix) error {
	return &UnsupportedError{Member: original.String(), Reason: "machine code patching is not implemented for " + runtime.GOARCH}
}

func (d *Detour) Original(original *Member) (reflect.Value, bool) {
	return original.Func, original.Func.IsValid()
}

func (d *Detour) Restore() error {
	return nil
}
