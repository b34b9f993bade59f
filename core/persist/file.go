package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"ReelForge/logger"
	"ReelForge/model"

	"github.com/fsnotify/fsnotify"
)

// FileAdapter keeps the project document in one JSON file. Writes go to a
// temp file in the same directory and are renamed into place.
type FileAdapter struct {
	path     string
	debounce time.Duration
}

// NewFileAdapter 创建文件存储
func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: filepath.Clean(path), debounce: 50 * time.Millisecond}
}

// Path 文件路径
func (f *FileAdapter) Path() string { return f.path }

func (f *FileAdapter) Load(_ context.Context) (*model.Document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode project file %s: %w", f.path, err)
	}
	return &doc, nil
}

func (f *FileAdapter) Save(_ context.Context, doc *model.Document) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".project-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace project file: %w", err)
	}
	return nil
}

// Watch reports the document every time the file is replaced or written.
// Bursts of events within the debounce window are delivered once.
func (f *FileAdapter) Watch(ctx context.Context, fn func(*model.Document)) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(f.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("项目文件监听出错", logger.ErrorField(err))
		case <-timer.C:
			doc, err := f.Load(ctx)
			if err != nil {
				logger.Warn("读取变更的项目文件失败", logger.String("path", f.path), logger.ErrorField(err))
				continue
			}
			fn(doc)
		}
	}
}
