package stores

import (
	"context"
	"os"

	"studynotes-server/core"
	"studynotes-server/stores/filesystem"
	"studynotes-server/stores/memory"
	"studynotes-server/stores/postgres"
	"studynotes-server/stores/s3"
	"studynotes-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore picks the document backend from STORAGE_TYPE.
func GetStore(ctx context.Context) core.DocumentStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.DocumentStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewDocumentStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "studynotes.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewDocumentStore(dataSourceName)
	case "postgres":
		pg, err := postgres.NewDocumentStore(os.Getenv("POSTGRES_DSN"))
		if err != nil {
			logrus.WithError(err).Fatal("POSTGRES_DSN environment variable must be set for postgres storage type")
		}
		store = pg
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		prefix := os.Getenv("S3_PREFIX")
		storageField["bucketName"] = bucketName
		storageField["prefix"] = prefix
		s3Store, err := s3.NewDocumentStore(ctx, bucketName, prefix)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to set up s3 storage")
		}
		store = s3Store
	default:
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
