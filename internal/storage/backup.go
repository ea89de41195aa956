package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxAutoBackups is how many automatic snapshots survive pruning.
const maxAutoBackups = 5

// Backup errors.
var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupCorrupted = errors.New("backup integrity check failed")
	ErrBackupExists    = errors.New("backup already exists")
	ErrInvalidBackupID = errors.New("invalid backup id")
	ErrInMemoryBackup  = errors.New("in-memory databases cannot be backed up")
)

// BackupInfo describes one ledger snapshot.
type BackupInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// Checkpoints returns the number of checkpoints in the snapshot.
func (b BackupInfo) Checkpoints() int {
	return b.RowCounts["checkpoints"]
}

// Receipts returns the number of receipts in the snapshot.
func (b BackupInfo) Receipts() int {
	return b.RowCounts["receipts"]
}

// BackupManager snapshots the ledger file into a sibling backups directory.
type BackupManager struct {
	db         *sql.DB
	now        func() time.Time
	dbPath     string
	backupsDir string
}

// NewBackupManager creates a backup manager for the store's database file.
func (s *SQLiteStorage) NewBackupManager() (*BackupManager, error) {
	if s.dbPath == ":memory:" {
		return nil, ErrInMemoryBackup
	}

	dbPath, err := filepath.Abs(s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	backupsDir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(backupsDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backups directory: %w", err)
	}

	return &BackupManager{
		db:         s.db,
		now:        s.now,
		dbPath:     dbPath,
		backupsDir: backupsDir,
	}, nil
}

// Dir returns where snapshots are written.
func (m *BackupManager) Dir() string {
	return m.backupsDir
}

// Create snapshots the ledger under id. An empty id is generated from the clock.
func (m *BackupManager) Create(ctx context.Context, id, description string) (*BackupInfo, error) {
	return m.create(ctx, id, description, false)
}

// AutoBackup snapshots the ledger before an operation named reason and
// prunes older automatic snapshots.
func (m *BackupManager) AutoBackup(ctx context.Context, reason string) (*BackupInfo, error) {
	id := fmt.Sprintf("auto-%s-%s", reason, m.now().Format("2006-01-02-150405.000"))
	info, err := m.create(ctx, id, "Automatic backup before "+reason, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create automatic backup: %w", err)
	}

	if err := m.pruneAuto(ctx); err != nil {
		slog.Warn("Failed to prune automatic backups", "error", err)
	}
	return info, nil
}

func (m *BackupManager) create(ctx context.Context, id, description string, auto bool) (*BackupInfo, error) {
	if id == "" {
		id = "backup-" + m.now().Format("2006-01-02-150405")
	}
	if err := validateBackupID(id); err != nil {
		return nil, err
	}

	dest := m.filePath(id)
	if _, err := os.Stat(dest); err == nil {
		return nil, ErrBackupExists
	}

	var schemaVersion int
	if err := m.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&schemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	counts := m.rowCounts(ctx)

	if err := m.snapshot(ctx, dest); err != nil {
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	info := BackupInfo{
		ID:            id,
		CreatedAt:     m.now(),
		Description:   description,
		FileSize:      stat.Size(),
		RowCounts:     counts,
		SchemaVersion: schemaVersion,
		IsAuto:        auto,
	}

	if err := saveBackupInfo(m.metaPath(id), info); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil {
			slog.Error("Failed to remove backup after metadata failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save backup metadata: %w", err)
	}

	slog.Info("Created ledger backup", "backup", id, "auto", auto, "receipts", info.Receipts())
	return &info, nil
}

// List returns every backup, newest first. Unreadable metadata is skipped.
func (m *BackupManager) List(_ context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	backups := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := loadBackupInfo(filepath.Join(m.backupsDir, entry.Name()))
		if err != nil {
			slog.Debug("Skipping unreadable backup metadata", "file", entry.Name(), "error", err)
			continue
		}
		backups = append(backups, *info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Get returns the metadata of one backup.
func (m *BackupManager) Get(_ context.Context, id string) (*BackupInfo, error) {
	if err := validateBackupID(id); err != nil {
		return nil, err
	}
	info, err := loadBackupInfo(m.metaPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup metadata: %w", err)
	}
	return info, nil
}

// Restore replaces the ledger with backup id. The live connection is closed;
// the owning store must not be used afterwards.
func (m *BackupManager) Restore(ctx context.Context, id string) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	src := m.filePath(id)

	if err := verifyIntegrity(src); err != nil {
		return fmt.Errorf("%w: %w", ErrBackupCorrupted, err)
	}

	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	rollback := m.dbPath + ".restore-backup"
	if err := copyFile(m.dbPath, rollback); err != nil {
		return fmt.Errorf("failed to save current database: %w", err)
	}

	if err := copyFile(src, m.dbPath); err != nil {
		if restoreErr := copyFile(rollback, m.dbPath); restoreErr != nil {
			slog.Error("Failed to put the original database back", "error", restoreErr)
		}
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	for _, stale := range []string{m.dbPath + "-wal", m.dbPath + "-shm", rollback} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove stale file after restore", "file", stale, "error", err)
		}
	}

	slog.Info("Restored ledger backup", "backup", id)
	return nil
}

// Delete removes a backup and its metadata.
func (m *BackupManager) Delete(_ context.Context, id string) error {
	if err := validateBackupID(id); err != nil {
		return err
	}

	if err := os.Remove(m.filePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	if err := os.Remove(m.metaPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("Failed to remove backup metadata", "backup", id, "error", err)
	}
	return nil
}

func (m *BackupManager) pruneAuto(ctx context.Context) error {
	backups, err := m.List(ctx)
	if err != nil {
		return err
	}

	kept := 0
	for _, b := range backups {
		if !b.IsAuto {
			continue
		}
		kept++
		if kept > maxAutoBackups {
			if err := m.Delete(ctx, b.ID); err != nil {
				slog.Debug("Failed to delete old automatic backup", "backup", b.ID, "error", err)
			}
		}
	}
	return nil
}

func (m *BackupManager) rowCounts(ctx context.Context) map[string]int {
	queries := map[string]string{
		"checkpoints":         "SELECT COUNT(*) FROM checkpoints",
		"receipts":            "SELECT COUNT(*) FROM receipts",
		"channel_cursors":     "SELECT COUNT(*) FROM channel_cursors",
		"conversation_states": "SELECT COUNT(*) FROM conversation_states",
	}

	counts := make(map[string]int, len(queries))
	for table, query := range queries {
		var n int
		if err := m.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			n = 0
		}
		counts[table] = n
	}
	return counts
}

func (m *BackupManager) snapshot(ctx context.Context, dest string) error {
	if strings.ContainsAny(dest, `'";`) {
		return fmt.Errorf("invalid destination path %q", dest)
	}

	// #nosec G201 - dest is built from a validated id inside backupsDir
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		slog.Debug("VACUUM INTO failed, copying the file instead", "error", err)
		if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("failed to checkpoint WAL: %w", err)
		}
		return copyFile(m.dbPath, dest)
	}
	return nil
}

func (m *BackupManager) filePath(id string) string {
	return filepath.Join(m.backupsDir, id+".db")
}

func (m *BackupManager) metaPath(id string) string {
	return filepath.Join(m.backupsDir, id+".meta.json")
}

func validateBackupID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\'";`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidBackupID, id)
	}
	return nil
}

func copyFile(src, dst string) error {
	// #nosec G304 - both paths are derived from the configured database location
	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			slog.Error("Failed to close source file", "error", closeErr)
		}
	}()

	tmp := dst + ".tmp"
	// #nosec G304
	destination, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		_ = destination.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := destination.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}

func saveBackupInfo(path string, info BackupInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadBackupInfo(path string) (*BackupInfo, error) {
	// #nosec G304 - path is built from a validated id
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var info BackupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}
