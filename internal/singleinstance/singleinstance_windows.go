//go:build windows

package singleinstance

import (
	"github.com/graaaaa/activity-telemetry/internal/appinfo"
	"golang.org/x/sys/windows"
)

// AcquireLock creates a session-scoped named mutex derived from dbPath.
//
// Returns:
//   - release: function to call when shutting down (use with defer)
//   - ok: false if another server already holds the database
//   - err: error if something went wrong
//
// Usage:
//
//	release, ok, err := singleinstance.AcquireLock(dbPath)
//	if err != nil { log.Fatal(err) }
//	if !ok { log.Println("database is in use"); return }
//	defer release()
func AcquireLock(dbPath string) (release func(), ok bool, err error) {
	key, err := lockKey(dbPath)
	if err != nil {
		return nil, false, err
	}
	name, err := windows.UTF16PtrFromString(appinfo.MutexPrefix + key)
	if err != nil {
		return nil, false, err
	}

	h, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		// If ERROR_ALREADY_EXISTS, another instance has the mutex
		if err == windows.ERROR_ALREADY_EXISTS {
			if h != 0 {
				windows.CloseHandle(h)
			}
			return nil, false, nil
		}
		return nil, false, err
	}

	return func() {
		windows.CloseHandle(h)
	}, true, nil
}
