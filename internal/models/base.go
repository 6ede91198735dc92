package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BaseModel contains common columns for all tables
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// Database connection instance
var DB *gorm.DB

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	DSN string
	// Debug logs every SQL statement
	Debug bool
}

// Migrated lists every model managed by AutoMigrate
func Migrated() []interface{} {
	return []interface{}{
		&Profile{},
		&ProfileCondition{},
		&BodyImpactRecord{},
		&Report{},
		&ReportFile{},
		&AnalysisPattern{},
	}
}

// InitDB initializes database connection
func InitDB(config DatabaseConfig) (*gorm.DB, error) {
	var err error

	level := logger.Warn
	if config.Debug {
		level = logger.Info
	}

	// Connect to MySQL database
	DB, err = gorm.Open(mysql.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	// Auto migrate the database models
	if err := DB.AutoMigrate(Migrated()...); err != nil {
		return nil, err
	}

	return DB, nil
}
