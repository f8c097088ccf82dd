package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mentorlink/mentorlink-server/cmd/api"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/db"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			logger.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		logger.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		logger.Info("Database connection closed")
	}()
	logger.Info("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		logger.Fatalf("Migration error: %v", err)
	}
	logger.Info("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {
	migrations := map[interface{}]string{
		&models.User{}:                "User",
		&models.Mentor{}:              "Mentor",
		&models.TimeSlot{}:            "TimeSlot",
		&models.Session{}:             "Session",
		&models.CancelSession{}:       "CancelSession",
		&models.Payment{}:             "Payment",
		&models.WebhookEvent{}:        "WebhookEvent",
		&models.RescheduleSession{}:   "RescheduleSession",
		&models.SessionDispute{}:      "SessionDispute",
		&models.MentorBalance{}:       "MentorBalance",
		&models.PayoutRelease{}:       "PayoutRelease",
		&models.BalanceEntry{}:        "BalanceEntry",
		&models.ScheduledJob{}:        "ScheduledJob",
		&models.Device{}:              "Device",
		&models.NotificationHistory{}: "NotificationHistory",
	}

	logger.Info("Starting database migrations...")
	for model, name := range migrations {
		logger.Infof("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
	}
	logger.Info("All migrations completed successfully")
	return nil
}

func startServer() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		logger.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		logger.Info("Database connection closed")
	}()
	logger.Info("Connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewApiServer(":"+port, DB, logger)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Server error: %v", err)
		}
	}()
	logger.Infof("Server running on port %s", port)

	<-quit
	logger.Info("Shutting down server...")
	server.Stop()
}

func runDatabaseClear() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		logger.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		logger.Info("Database connection closed")
	}()

	logger.Info("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)
	if confirmation != "yes" {
		logger.Info("Database clearing cancelled.")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		byName := map[string]interface{}{
			"User":                &models.User{},
			"Mentor":              &models.Mentor{},
			"TimeSlot":            &models.TimeSlot{},
			"Session":             &models.Session{},
			"CancelSession":       &models.CancelSession{},
			"Payment":             &models.Payment{},
			"WebhookEvent":        &models.WebhookEvent{},
			"RescheduleSession":   &models.RescheduleSession{},
			"SessionDispute":      &models.SessionDispute{},
			"MentorBalance":       &models.MentorBalance{},
			"PayoutRelease":       &models.PayoutRelease{},
			"BalanceEntry":        &models.BalanceEntry{},
			"ScheduledJob":        &models.ScheduledJob{},
			"Device":              &models.Device{},
			"NotificationHistory": &models.NotificationHistory{},
		}
		for _, table := range strings.Split(tableNames, ",") {
			model, ok := byName[strings.TrimSpace(table)]
			if !ok {
				logger.Warnf("Unknown table: %s", table)
				continue
			}
			tables = append(tables, model)
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		logger.Fatalf("Error clearing database: %v", err)
	}
	logger.Info("Database cleared successfully")
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		// Dependents first so foreign keys do not block the drops.
		tables = []interface{}{
			&models.BalanceEntry{},
			&models.PayoutRelease{},
			&models.MentorBalance{},
			&models.SessionDispute{},
			&models.RescheduleSession{},
			&models.WebhookEvent{},
			&models.Payment{},
			&models.CancelSession{},
			&models.Session{},
			&models.TimeSlot{},
			&models.ScheduledJob{},
			&models.NotificationHistory{},
			&models.Device{},
			&models.Mentor{},
			&models.User{},
		}
	}

	logger.Info("Dropping tables...")
	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			logger.Warnf("Warning dropping table %T: %v", table, err)
		} else {
			logger.Infof("Table %T dropped", table)
		}
	}
	return nil
}
