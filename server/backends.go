package server

import (
	"context"
	"fmt"

	"ReelForge/cache"
	"ReelForge/config"
	"ReelForge/core/mediacache"
	"ReelForge/core/persist"
	"ReelForge/db"
	"ReelForge/logger"
	"ReelForge/repository"
	"ReelForge/storage"
)

// Backends holds the storage chosen by PERSIST_BACKEND and MEDIA_STORE.
type Backends struct {
	Adapter    persist.Adapter
	Watcher    persist.Watcher // 可能为 nil
	MediaStore mediacache.Store

	closers []func() error
}

// Close 逆序释放连接
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("关闭存储后端失败", logger.ErrorField(err))
		}
	}
}

// OpenBackends connects the persistence adapter and the durable media store.
func OpenBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}
	if err := b.openPersistence(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMediaStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) openPersistence(ctx context.Context, cfg *config.Config) error {
	switch cfg.PersistBackend {
	case "", "file":
		fa := persist.NewFileAdapter(cfg.ProjectFile)
		b.Adapter, b.Watcher = fa, fa
		logger.Info("项目保存在本地文件", logger.String("path", fa.Path()))
	case "redis":
		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, client.Close)
		ps := cache.NewProjectStore(client, cfg.ProjectID)
		b.Adapter, b.Watcher = ps, ps
		logger.Info("项目保存在 Redis", logger.String("key", cache.ProjectKey(cfg.ProjectID)))
	case "mysql":
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error { return db.CloseGormDB(gdb) })
		repo := repository.NewProjectRepository(gdb, cfg.ProjectID)
		if err := repo.Migrate(); err != nil {
			return err
		}
		b.Adapter, b.Watcher = repo, repo
		logger.Info("项目保存在 MySQL", logger.String("project", cfg.ProjectID))
	default:
		return fmt.Errorf("unknown PERSIST_BACKEND %q", cfg.PersistBackend)
	}
	return nil
}

func (b *Backends) openMediaStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.MediaStore {
	case "", "disk":
		ds, err := storage.NewDiskMediaStore(cfg.MediaDir)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, ds.Close)
		b.MediaStore = ds
	case "minio":
		ms, err := storage.NewMinioMediaStore(ctx, cfg)
		if err != nil {
			return err
		}
		b.MediaStore = ms
	case "memory":
		b.MediaStore = mediacache.NewMemoryStore()
	default:
		return fmt.Errorf("unknown MEDIA_STORE %q", cfg.MediaStore)
	}
	return nil
}
