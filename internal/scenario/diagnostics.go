package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/domain"
)

// Diagnostics writes UI dumps of failed replenishments to a directory
type Diagnostics struct {
	dir string
	now func() time.Time
}

// NewDiagnostics creates a writer rooted at dir
func NewDiagnostics(dir string) *Diagnostics {
	return &Diagnostics{dir: dir, now: time.Now}
}

// Dir returns the directory dumps are written to
func (d *Diagnostics) Dir() string {
	return d.dir
}

// Write stores dump as Error_<number>_<page>_<timestamp>.xml and returns its path
func (d *Diagnostics) Write(number string, page domain.Page, dump []byte) (string, error) {
	if len(dump) == 0 {
		return "", fmt.Errorf("empty dump")
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("creating diagnostics dir: %w", err)
	}

	name := fmt.Sprintf("Error_%s_%s_%s.xml", sanitize(number), page, d.now().Format("20060102_150405"))
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, dump, 0644); err != nil {
		return "", fmt.Errorf("writing dump: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
