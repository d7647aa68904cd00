package app

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"custdoc/internal/docs"
)

// sniffLen is how much content http.DetectContentType looks at.
const sniffLen = 512

// DetectMIME returns the media type of a file, from its extension when
// known and from its leading bytes otherwise. Parameters such as charset
// are dropped.
func DetectMIME(name string, data []byte) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		if len(data) > sniffLen {
			data = data[:sniffLen]
		}
		t = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// readFiles loads the files at paths for upload. Every path is read before
// anything is uploaded, so a typo fails the whole batch up front.
func readFiles(paths []string) ([]docs.File, error) {
	files := make([]docs.File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, docs.File{
			Name: filepath.Base(p),
			Type: DetectMIME(p, data),
			Data: data,
		})
	}
	return files, nil
}
