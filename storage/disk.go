package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ReelForge/core/mediacache"
	"ReelForge/db"
	"ReelForge/logger"
	"ReelForge/model"
)

// DiskMediaStore keeps cached media as files under dir/blobs with the
// metadata indexed in dir/index.db.
type DiskMediaStore struct {
	dir   string
	index *db.SQLite
}

// NewDiskMediaStore 打开（或创建）本地媒体缓存目录
func NewDiskMediaStore(dir string) (*DiskMediaStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	index, err := db.OpenSQLite(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	return &DiskMediaStore{dir: dir, index: index}, nil
}

func (d *DiskMediaStore) blobPath(key string) string {
	return filepath.Join(d.dir, "blobs", key)
}

func (d *DiskMediaStore) Stat(ctx context.Context, key string) (model.MediaEntry, error) {
	row := d.index.Conn().QueryRowContext(ctx,
		`SELECT key, url, mime_type, size, cached_at FROM media_entries WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if err != nil {
		return model.MediaEntry{}, err
	}
	// 索引存在但文件丢失时视为未缓存
	if _, err := os.Stat(d.blobPath(key)); err != nil {
		logger.Warn("媒体索引指向的文件不存在", logger.String("key", key))
		_, _ = d.index.Conn().ExecContext(ctx, `DELETE FROM media_entries WHERE key = ?`, key)
		return model.MediaEntry{}, mediacache.ErrNotFound
	}
	return entry, nil
}

func (d *DiskMediaStore) Open(ctx context.Context, key string) (io.ReadCloser, model.MediaEntry, error) {
	entry, err := d.Stat(ctx, key)
	if err != nil {
		return nil, model.MediaEntry{}, err
	}
	f, err := os.Open(d.blobPath(key))
	if err != nil {
		return nil, model.MediaEntry{}, fmt.Errorf("open blob %s: %w", key, err)
	}
	return f, entry, nil
}

// Put writes to a temp file first; the blob and its index row appear only
// after the body has been read completely.
func (d *DiskMediaStore) Put(ctx context.Context, entry model.MediaEntry, r io.Reader) (model.MediaEntry, error) {
	tmp, err := os.CreateTemp(filepath.Join(d.dir, "blobs"), ".download-*")
	if err != nil {
		return model.MediaEntry{}, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return model.MediaEntry{}, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return model.MediaEntry{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.blobPath(entry.Key)); err != nil {
		return model.MediaEntry{}, fmt.Errorf("store blob: %w", err)
	}

	entry.Size = n
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}
	_, err = d.index.Conn().ExecContext(ctx, `
		INSERT INTO media_entries (key, url, mime_type, size, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			mime_type = excluded.mime_type,
			size = excluded.size,
			cached_at = excluded.cached_at
	`, entry.Key, entry.URL, entry.MimeType, entry.Size, entry.CachedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		os.Remove(d.blobPath(entry.Key))
		return model.MediaEntry{}, fmt.Errorf("index blob: %w", err)
	}
	return entry, nil
}

func (d *DiskMediaStore) Delete(ctx context.Context, key string) error {
	if _, err := d.index.Conn().ExecContext(ctx, `DELETE FROM media_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete index row: %w", err)
	}
	if err := os.Remove(d.blobPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (d *DiskMediaStore) Clear(ctx context.Context) error {
	if _, err := d.index.Conn().ExecContext(ctx, `DELETE FROM media_entries`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	blobs := filepath.Join(d.dir, "blobs")
	if err := os.RemoveAll(blobs); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return os.MkdirAll(blobs, 0755)
}

// List 按缓存时间倒序列出全部条目
func (d *DiskMediaStore) List(ctx context.Context) ([]model.MediaEntry, error) {
	rows, err := d.index.Conn().QueryContext(ctx,
		`SELECT key, url, mime_type, size, cached_at FROM media_entries ORDER BY cached_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list media entries: %w", err)
	}
	defer rows.Close()

	var out []model.MediaEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (d *DiskMediaStore) Close() error {
	return d.index.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (model.MediaEntry, error) {
	var e model.MediaEntry
	var cachedAt string
	err := row.Scan(&e.Key, &e.URL, &e.MimeType, &e.Size, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MediaEntry{}, mediacache.ErrNotFound
	}
	if err != nil {
		return model.MediaEntry{}, fmt.Errorf("scan media entry: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, cachedAt); err == nil {
		e.CachedAt = t
	}
	return e, nil
}
