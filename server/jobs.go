package server

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/Steven867533/hce-backend/server/gstorage"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/Steven867533/hce-backend/server/work"
	"github.com/Steven867533/hce-backend/shared"
	"github.com/Steven867533/hce-backend/utils"
	"github.com/pkg/errors"
)

const (
	DATABASE_BACKUP_HANDLER      = "database_backup"
	MESSAGE_NOTIFICATION_HANDLER = "message_notification"
)

func registerJobHandlers(config shared.ServerConfig, dbRootDir string) error {
	err := workerPool.Register(MESSAGE_NOTIFICATION_HANDLER, messageNotificationHandler())
	if err != nil {
		return err
	}

	if config.Google.Storage.EnableSqliteBackupAndSync != true {
		return nil
	}

	err = workerPool.Register(DATABASE_BACKUP_HANDLER, databaseBackupHandler(config, dbRootDir))
	if err != nil {
		return err
	}

	return workerPool.PeriodicallyPerform(config.Google.Storage.SqliteBackupSchedule, work.JobParams{
		Name:    "periodic_database_backup",
		Handler: DATABASE_BACKUP_HANDLER,
		Unique:  true,
	})
}

// maybeRestoreDatabase pulls the last uploaded db file from cloud
// storage when backup sync is on and no local db file exists yet, e.g.
// after the host is rebuilt.
func maybeRestoreDatabase(config shared.ServerConfig, dbRootDir string) error {
	if config.Google.Storage.EnableSqliteBackupAndSync != true {
		return nil
	}

	dbDir, err := models.DbDirectory(dbRootDir)
	if err != nil {
		return err
	}

	dbFilePath := filepath.Join(dbDir, models.DB_NAME)
	if utils.FileExist(dbFilePath) {
		return nil
	}

	gStorage, err := gstorage.NewGStorage(config.Google.ApplicationCredentials)
	if err != nil {
		return err
	}

	object := path.Join(config.Google.Storage.Prefix, models.DB_NAME)
	err = gStorage.DownloadFile(config.Google.Storage.Bucket, object, dbFilePath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		logg.Infof("no remote db backup found at %v, starting fresh", object)
		return nil
	}

	return err
}

// messageNotificationHandler texts a recipient that a new message is
// waiting for them.
func messageNotificationHandler() work.Handler {
	return func(args map[string]interface{}) error {
		phoneNumber, ok := args["phoneNumber"].(string)
		if !ok || phoneNumber == "" {
			return errors.New("messageNotificationHandler: phoneNumber is required")
		}

		senderName, _ := args["senderName"].(string)
		if senderName == "" {
			senderName = "Someone"
		}

		return smsClient.SendMessage(
			phoneNumber,
			fmt.Sprintf("%v sent you a new message on HCE. Open the app to read it.", senderName),
		)
	}
}

// databaseBackupHandler uploads the sqlite db file to cloud storage.
// The live file is snapshotted first, so the upload never reads a file
// mid-write.
func databaseBackupHandler(config shared.ServerConfig, dbRootDir string) work.Handler {
	return func(args map[string]interface{}) error {
		gStorage, err := gstorage.NewGStorage(config.Google.ApplicationCredentials)
		if err != nil {
			return err
		}

		dbDir, err := models.DbDirectory(dbRootDir)
		if err != nil {
			return err
		}

		snapshotPath := filepath.Join(os.TempDir(), models.DB_NAME)
		err = utils.CopyFile(filepath.Join(dbDir, models.DB_NAME), snapshotPath)
		if err != nil {
			return err
		}
		defer os.Remove(snapshotPath)

		return gStorage.UploadFile(
			config.Google.Storage.Bucket,
			config.Google.Storage.Prefix,
			snapshotPath,
		)
	}
}
