package audit

import "strings"

// isSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the optional durable sink is locked by another writer.
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// isSQLiteLockedError checks if the error is a "database is locked" error.
// This is another form of SQLite concurrency error.
func isSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// isSQLiteConflictError reports either SQLite concurrency error, both of
// which warrant a bounded retry rather than dropping the audit entry.
func isSQLiteConflictError(err error) bool {
	return isSQLiteBusyError(err) || isSQLiteLockedError(err)
}
