package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

const sqliteScheme = "sqlite://"

// Open opens a gorm connection for the given DSN. DSNs prefixed with
// "sqlite://" use the sqlite driver, everything else is handed to postgres.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqliteScheme) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqliteScheme))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// sqlite serialises writers; a single connection keeps
		// SELECT ... FOR UPDATE style sections from interleaving.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Connect establishes the global database connection
func Connect(dsn string, logLevel logger.LogLevel) error {
	db, err := Open(dsn, logLevel)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Operator{},
		&DataCenter{},
		&MonitorUnit{},
		&MonitorWebsite{},
		&ProbePoint{},
		&Ticket{},
		&PreAlert{},
		&Alert{},
		&ResolvedAlert{},
		&AlertLifetime{},
		&EmailNotification{},
		&TaskLock{},
	}
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DefaultAdmin describes the bootstrap operator created on first start.
type DefaultAdmin struct {
	Username string
	Password string
	Email    string
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults(db *gorm.DB, admin DefaultAdmin, log *zap.Logger) error {
	if admin.Username == "" || admin.Password == "" {
		return nil
	}

	var existing Operator
	err := db.Where("username = ?", admin.Username).First(&existing).Error
	if err == nil {
		if !existing.IsAdmin {
			if err := db.Model(&existing).Update("is_admin", true).Error; err != nil {
				return fmt.Errorf("failed to promote admin operator: %w", err)
			}
			log.Info("promoted bootstrap operator to admin", zap.String("username", admin.Username))
		}
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to look up admin operator: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	email := admin.Email
	if email == "" {
		email = admin.Username
	}
	op := &Operator{
		Username:     admin.Username,
		Email:        email,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}
	if err := db.Create(op).Error; err != nil {
		return fmt.Errorf("failed to create admin operator: %w", err)
	}

	log.Info("created bootstrap admin operator", zap.String("username", admin.Username))
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
