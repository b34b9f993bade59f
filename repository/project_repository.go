package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ReelForge/core/persist"
	"ReelForge/logger"
	"ReelForge/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectRepository stores one project document per row and implements
// the persistence adapter for PERSIST_BACKEND=mysql.
type ProjectRepository struct {
	db           *gorm.DB
	projectID    string
	pollInterval time.Duration
}

// NewProjectRepository 创建项目仓库
func NewProjectRepository(db *gorm.DB, projectID string) *ProjectRepository {
	return &ProjectRepository{db: db, projectID: projectID, pollInterval: 2 * time.Second}
}

// Migrate 自动建表
func (r *ProjectRepository) Migrate() error {
	if err := r.db.AutoMigrate(&model.ProjectRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate projects: %w", err)
	}
	return nil
}

// Load 读取项目文档
func (r *ProjectRepository) Load(ctx context.Context) (*model.Document, error) {
	rec, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec)
}

func (r *ProjectRepository) get(ctx context.Context) (*model.ProjectRecord, error) {
	var rec model.ProjectRecord
	err := r.db.WithContext(ctx).Where("id = ?", r.projectID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persist.ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("query project %s: %w", r.projectID, err)
	}
	return &rec, nil
}

func decodeRecord(rec *model.ProjectRecord) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(rec.Document, &doc); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", rec.ID, err)
	}
	return &doc, nil
}

// Save 插入或覆盖
func (r *ProjectRepository) Save(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	rec := model.ProjectRecord{
		ID:       r.projectID,
		Name:     doc.Project.Name,
		Document: data,
		Origin:   doc.Origin,
		SavedAt:  doc.SavedAt,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "document", "origin", "saved_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save project %s: %w", r.projectID, err)
	}
	return nil
}

// Watch polls saved_at and reports rows written since the last poll.
// MySQL has no change feed, so this is the cross-instance notification.
func (r *ProjectRepository) Watch(ctx context.Context, fn func(*model.Document)) error {
	var seen int64
	if rec, err := r.get(ctx); err == nil {
		seen = rec.SavedAt
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var rec model.ProjectRecord
			err := r.db.WithContext(ctx).
				Where("id = ? AND saved_at > ?", r.projectID, seen).
				First(&rec).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				logger.Warn("轮询项目变更失败", logger.String("projectId", r.projectID), logger.ErrorField(err))
				continue
			}
			seen = rec.SavedAt
			doc, err := decodeRecord(&rec)
			if err != nil {
				logger.Warn("忽略无法解析的项目记录", logger.ErrorField(err))
				continue
			}
			fn(doc)
		}
	}
}
