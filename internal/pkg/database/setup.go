package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide connection, set by SetupDatabase.
var DB *gorm.DB

// GetDB returns the connection opened by SetupDatabase
func GetDB() *gorm.DB {
	return DB
}

// DSN builds the MySQL data source name from DB_* variables
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// Models lists every table owned by this service, in dependency order.
// The registrations table belongs to the registration service and is not migrated here.
func Models() []interface{} {
	return []interface{}{
		&models.WebhookEvent{},
		&models.WebhookAttempt{},
		&models.SecurityAuditEvent{},
		&models.Customer{},
		&models.Payment{},
		&models.Refund{},
		&models.ReconciliationRecord{},
		&models.ReconciliationRun{},
		&models.PendingRegistrationLink{},
	}
}

func SetupDatabase() error {
	var err error
	gormLogger := logger.Default.LogMode(logger.Warn)
	if env.IsDev() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// maps MySQL 1062 to gorm.ErrDuplicatedKey
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
			Logger:         gormLogger,
		})
		if err == nil {
			if env.GetBool("DB_AUTO_MIGRATE", true) {
				if err = DB.AutoMigrate(Models()...); err != nil {
					return fmt.Errorf("auto migrate: %w", err)
				}
			}
			return nil
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return fmt.Errorf("connect database: %w", err)
}

// Ping checks the connection opened by SetupDatabase
func Ping(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
