package db

import (
	"fmt"
	"time"

	"escrow-backend/internal/config"
	"escrow-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to postgres and migrates the schema.
func InitDB() error {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.AppConfig.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.AppConfig.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logrus.Info("database connected")

	if err := DB.AutoMigrate(
		&models.Task{},
		&models.Escrow{},
		&models.Submission{},
		&models.Dispute{},
		&models.DeadLetterRefund{},
		&models.TokenRailEscrow{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	logrus.Info("database schema migrated")
	return nil
}
