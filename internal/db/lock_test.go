//go:build unix

package db

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock := newFileLock(dir)
	if err := lock.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid:") {
		t.Errorf("lock file should record holder, got %q", data)
	}

	lock.release()
	// double release is harmless
	lock.release()
}

func TestFileLock_Serializes(t *testing.T) {
	dir := t.TempDir()

	const workers = 5
	const rounds = 10

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				lock := newFileLock(dir)
				if err := lock.acquire(5 * time.Second); err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				v := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, v+1)
				lock.release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*rounds {
		t.Errorf("counter = %d, want %d", counter, workers*rounds)
	}
}

func TestFileLock_Timeout(t *testing.T) {
	dir := t.TempDir()

	held := newFileLock(dir)
	if err := held.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer held.release()

	start := time.Now()
	err := newFileLock(dir).acquire(100 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("gave up after %v, want ~100ms", elapsed)
	}
	if !strings.Contains(err.Error(), "timeout") || !strings.Contains(err.Error(), "pid") {
		t.Errorf("error should name the timeout and holder: %v", err)
	}
}
