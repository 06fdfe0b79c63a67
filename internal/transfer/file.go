package transfer

import (
	"bytes"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const defaultMIMEType = "application/octet-stream"

// MIMETypeOf guesses a MIME type from the file name's extension.
func MIMETypeOf(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return defaultMIMEType
}

// OpenFile opens path for sending. The caller must close the returned file.
func OpenFile(path string) (File, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return File{}, nil, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	return File{
		Name:     name,
		MIMEType: MIMETypeOf(name),
		Size:     info.Size(),
		Reader:   f,
	}, f, nil
}

// BytesFile wraps an in-memory payload as a File.
func BytesFile(name, mimeType string, data []byte) File {
	if mimeType == "" {
		mimeType = MIMETypeOf(name)
	}
	return File{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Reader:   bytes.NewReader(data),
	}
}
