package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Steven867533/hce-backend/server/logger"
	"github.com/Steven867533/hce-backend/utils"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "hce.db"

var logg = logger.NewLogger()
var db *gorm.DB

// AutoMigrate opens the process-wide db handle, migrates the schema
// and inserts seed data.
func AutoMigrate(passPhrase string, dbRootDir string) error {
	err := openDB(passPhrase, dbRootDir)
	if err != nil {
		return err
	}

	db.AutoMigrate(
		&JobStatus{}, &Job{},
		&User{}, &Reading{}, &Location{}, &Message{},
	)

	populateDBWithSeedData()

	return nil
}

// Close releases the process-wide db handle. Called during shutdown.
func Close() error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Connected reports whether the db handle is open and reachable.
func Connected() bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	return sqlDB.Ping() == nil
}

// InitializeTestDb points the models package at a throw-away database.
// Only for use in tests.
func InitializeTestDb() {
	dbRootDir, err := os.MkdirTemp("", "hce-backend-test-*")
	if err != nil {
		logg.Panic(err)
	}

	if err := AutoMigrate("test-passphrase", dbRootDir); err != nil {
		logg.Panic(err)
	}
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func openDB(passPhrase string, dbRootDir string) error {
	var err error
	var dbDSNVal string

	dbDSNVal, err = dbDSN(passPhrase, dbRootDir)
	if err != nil {
		return fmt.Errorf("failed to set sqlite DSN: %v", err)
	}

	db, err = gorm.Open(sqliteEncrypt.Open(dbDSNVal), &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	return nil
}

func populateDBWithSeedData() {
	if err := db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'JobStatus'")
		db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB},
			{Name: SUCCESSFUL_JOB}, {Name: DEAD_JOB},
		})
	}

	if err := db.First(&Location{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'Location'")
		db.Create(&[]Location{
			{Name: "Cairo Pharmacy A", Type: PHARMACY_LOCATION, Latitude: 30.033333, Longitude: 31.233334, Address: "123 Nile St, Cairo"},
			{Name: "Dr. Ahmed Clinic", Type: DOCTOR_LOCATION, Latitude: 30.034500, Longitude: 31.234500, Address: "456 Health Ave, Cairo"},
			{Name: "Cairo Pharmacy B", Type: PHARMACY_LOCATION, Latitude: 30.032000, Longitude: 31.232000, Address: "789 Wellness Rd, Cairo"},
			{Name: "Dr. Fatima Office", Type: DOCTOR_LOCATION, Latitude: 30.035000, Longitude: 31.235000, Address: "321 Medical Blvd, Cairo"},
		})
	}
}

func dbDSN(passPhrase string, dbRootDir string) (string, error) {
	dbDir, err := DbDirectory(dbRootDir)
	if err != nil {
		return "", err
	}

	dbFilePath := filepath.Join(dbDir, DB_NAME)
	dbName := fmt.Sprintf("file:%v", dbFilePath)

	return fmt.Sprintf(
		"%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbName,
		passPhrase,
	), nil
}

func DbDirectory(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return dbDir, nil
}
