//go:build !unix && !windows

package singleinstance

// AcquireLock is a no-op on platforms without flock or named mutexes.
func AcquireLock(dbPath string) (release func(), ok bool, err error) {
	if _, err := lockKey(dbPath); err != nil {
		return nil, false, err
	}
	return func() {}, true, nil
}
