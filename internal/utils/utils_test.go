package utils

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	defer Log.SetLevel(logrus.InfoLevel)
	if err := SetLogLevel("WARN"); err != nil || Log.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %v (%v)", Log.GetLevel(), err)
	}
	if err := SetLogLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"ROBBERY", 10, "ROBBERY"},
		{"OFFENSES AGAINST PUBLIC ADMINISTRATION", 12, "OFFENSES ..."},
		{"abc", 2, "abc"},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("Truncate(%q, %d): want %q, got %q", tc.in, tc.n, tc.want, got)
		}
	}
}

func TestDBLock(t *testing.T) {
	db := filepath.Join(t.TempDir(), "incidents.sqlite")
	l, err := NewDBLock(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}

	other, _ := NewDBLock(db)
	if ok, err := other.lock.TryLock(); err != nil || ok {
		t.Fatalf("second lock must not be acquired while held (ok=%v err=%v)", ok, err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, err := other.lock.TryLock(); err != nil || !ok {
		t.Fatalf("lock must be free after unlock (ok=%v err=%v)", ok, err)
	}
	other.Unlock()
}
