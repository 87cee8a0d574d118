package badge

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

//go:embed assets/*.svg
var embeddedAssets embed.FS

// ErrUnknownKey is returned when an asset is requested for a key outside Keys.
var ErrUnknownKey = errors.New("unknown badge key")

// Assets loads badge SVGs named build-<key>.svg from a filesystem.
type Assets struct {
	fsys fs.FS
}

// NewAssets serves badges from fsys.
func NewAssets(fsys fs.FS) *Assets {
	return &Assets{fsys: fsys}
}

// DefaultAssets serves the badges compiled into the binary.
func DefaultAssets() *Assets {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(fmt.Sprintf("badge assets: %v", err))
	}
	return NewAssets(sub)
}

// AssetsFromDir serves badges from dir, or the embedded set when dir is blank.
func AssetsFromDir(dir string) *Assets {
	if strings.TrimSpace(dir) == "" {
		return DefaultAssets()
	}
	return NewAssets(os.DirFS(dir))
}

// FileName returns the asset name for k.
func FileName(k Key) string {
	return "build-" + string(k) + ".svg"
}

// Load reads the SVG for k. Keys that are not in Keys never reach the
// filesystem.
func (a *Assets) Load(k Key) ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, string(k))
	}
	data, err := fs.ReadFile(a.fsys, FileName(k))
	if err != nil {
		return nil, fmt.Errorf("read badge %s: %w", k, err)
	}
	return data, nil
}

// Check verifies that every key has a readable asset.
func (a *Assets) Check() error {
	for _, k := range Keys {
		if _, err := a.Load(k); err != nil {
			return err
		}
	}
	return nil
}
