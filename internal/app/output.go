package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxRenames bounds the "name (n).ext" search for a free output path.
const maxRenames = 1000

// safeName reduces a peer-supplied file name to a single path element.
func safeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("unusable file name %q", name)
	}
	return name, nil
}

// saveFile writes data to dir under name, renaming to "name (n).ext" when
// the name is taken. Existing files are never overwritten.
func saveFile(dir, name string, data []byte) (string, error) {
	base, err := safeName(name)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxRenames; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free name for %s in %s", base, dir)
}
