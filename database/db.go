package database

import (
	"fmt"
	"log/slog"
	"time"

	"student-polling-backend/config"
	"student-polling-backend/migrations"
	"student-polling-backend/models"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured store, migrates the schema and, in
// development, seeds a sample poll and post.
func Open(cfg config.Config, log *slog.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.IsDevelopment() {
		level = logger.Info
	}
	gormLogger := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)

	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case "sqlite":
		dialector = sqlite.Open(SQLiteDSN(cfg.DB.SQLitePath))
	default:
		dialector = mysql.Open(cfg.DB.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.DB.Driver == "sqlite" {
		// a single writer connection keeps sqlite from returning SQLITE_BUSY under load
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.IsDevelopment() {
		if err := SeedSampleData(db, log); err != nil {
			log.Warn("failed to seed sample data", "error", err)
		}
	}

	log.Info("database ready", "driver", cfg.DB.Driver)
	return db, nil
}

// SQLiteDSN turns a file path into a go-sqlite3 DSN with a busy timeout.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}

// Migrate creates or updates every table and runs the data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{}, &models.Post{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SeedSampleData inserts one open poll and one post into an empty store.
func SeedSampleData(db *gorm.DB, log *slog.Logger) error {
	var count int64
	if err := db.Model(&models.Poll{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Debug("store already has polls, skipping sample data")
		return nil
	}

	now := time.Now().UTC()
	pollID := uuid.NewString()
	texts := []string{"Friday", "Saturday", "Sunday"}
	options := make([]models.PollOption, len(texts))
	for i, text := range texts {
		options[i] = models.PollOption{PollID: pollID, ID: models.OptionID(i), Text: text, Position: i}
	}

	poll := models.Poll{
		ID:          pollID,
		Title:       "Which day should the spring fair be held?",
		Description: "The student council will book the hall for the most popular day.",
		Options:     options,
		EndDate:     now.Add(7 * 24 * time.Hour),
		IsActive:    true,
		CreatedBy:   "admin@school.edu",
	}

	post := models.Post{
		ID:          uuid.NewString(),
		Title:       "Council elections open next week",
		Content:     "Nominations close on Friday. Voting will happen on this board.",
		Author:      "admin@school.edu",
		Category:    models.CategoryElections,
		PublishDate: now.Format(models.PublishDateLayout),
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return err
		}
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		log.Info("sample data created", "poll_id", poll.ID, "post_id", post.ID)
		return nil
	})
}

// Close releases the connection pool.
func Close(db *gorm.DB, log *slog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("failed to get database handle", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("failed to close database", "error", err)
		return
	}
	log.Info("database connection closed")
}
