// Package device controls Android phones and emulators over ADB.
package device

import (
	"context"
	"math/rand/v2"
)

// Rect is a screen rectangle in device pixels
type Rect struct {
	X1, Y1, X2, Y2 int
}

// RandomPoint returns a point inside the rectangle so repeated taps do not
// land on the exact same pixel
func (r Rect) RandomPoint() (x, y int) {
	return between(r.X1, r.X2), between(r.Y1, r.Y2)
}

func between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo)
}

// Device is a single connected phone or emulator
type Device interface {
	Serial() string
	// UIDump returns the current UI hierarchy. Transport failures and
	// malformed output are reported as domain.ErrTransport.
	UIDump(ctx context.Context) (*UITree, error)
	Tap(ctx context.Context, r Rect) error
	InputText(ctx context.Context, text string) error
	GoHome(ctx context.Context) error
	OpenApp(ctx context.Context, pkg string) error
	CloseApp(ctx context.Context, pkg string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Shell(ctx context.Context, command string) (string, error)
}

// Manager discovers connected devices
type Manager interface {
	ListConnectedDevices(ctx context.Context) ([]Device, error)
}
