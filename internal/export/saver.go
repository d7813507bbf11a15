package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Saver is the file-save collaborator the orchestrator hands the finished
// container to. The UI client may substitute its own (file picker); the
// default writes to the configured output directory as a download-style
// fallback.
type Saver interface {
	Save(fileName string, data []byte) (string, error)
}

// DirSaver writes finished exports into a directory, never overwriting an
// existing file.
type DirSaver struct {
	dir string
}

func NewDirSaver(dir string) (*DirSaver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}
	return &DirSaver{dir: dir}, nil
}

func (s *DirSaver) Save(fileName string, data []byte) (string, error) {
	path := filepath.Join(s.dir, fileName)

	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write export: %w", err)
	}
	return path, nil
}
