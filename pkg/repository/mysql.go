package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// FileRepository is the durable store of uploaded order files.
type FileRepository struct {
	db *gorm.DB
}

// OpenMySQL connects gorm to MySQL with the configured pool limits.
func OpenMySQL(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// NewFileRepository migrates the order_files table on db.
func NewFileRepository(db *gorm.DB) (*FileRepository, error) {
	if err := db.AutoMigrate(&models.OrderFile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &FileRepository{db: db}, nil
}

func (r *FileRepository) Put(ctx context.Context, f *models.OrderFile) (uint, error) {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return 0, fmt.Errorf("failed to store order file: %w", err)
	}
	return f.ID, nil
}

// Get returns order.ErrRecordNotFound for unknown ids.
func (r *FileRepository) Get(ctx context.Context, id uint) (*models.OrderFile, error) {
	var f models.OrderFile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order file %d: %w", id, order.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to load order file: %w", err)
	}
	return &f, nil
}

func (r *FileRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.OrderFile{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete order file: %w", err)
	}
	return nil
}

func (r *FileRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
