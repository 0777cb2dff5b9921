package storage

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/models"
)

type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql: empty dsn")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &MySQLStore{db: db}, nil
}

// Migrate creates or updates the knowledge table
func (s *MySQLStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.KnowledgeRow{}); err != nil {
		return fmt.Errorf("failed to migrate knowledge table: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) GetDB() *gorm.DB {
	return s.db
}
