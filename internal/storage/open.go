package storage

import "github.com/sirupsen/logrus"

// MemoryDatabase selects the in-process store instead of SQLite
const MemoryDatabase = "memory"

// OpenStore opens the configured store: SQLite at path, or the in-memory
// store when path is "memory".
func OpenStore(path, migrationsDir string) (Store, error) {
	if path == MemoryDatabase {
		logrus.Warn("Using in-memory store, state is lost on restart")
		return NewMemoryStore(), nil
	}
	return OpenSQLite(path, migrationsDir)
}

// OpenArchive returns the Azure Blob archive when an account is configured
// and a local directory archive otherwise.
func OpenArchive(account, container, dir string) (Archive, error) {
	if account != "" {
		return NewAzureArchive(account, container)
	}
	logrus.Infof("No storage account configured, archiving reports under %s", dir)
	return NewFileArchive(dir)
}
