package migrate

import (
	"errors"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		if err := Run(dsn, "up"); !errors.Is(err, ErrNoDSN) {
			t.Errorf("Run(%q) err = %v, want ErrNoDSN", dsn, err)
		}
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	testCases := []struct {
		name      string
		direction string
	}{
		{"empty", ""},
		{"invalid", "invalid"},
		{"upcase", "UP"},
		{"mixed", "Up"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run("postgres://localhost/test", tc.direction)
			if !errors.Is(err, ErrBadDirection) {
				t.Errorf("Run direction %q err = %v, want ErrBadDirection", tc.direction, err)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
	}{
		{"invalid format", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
		{"spaces", "postgres://localhost with spaces/test"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(tc.dsn, "up")
			if err == nil {
				t.Errorf("Run with invalid DSN %q should return error", tc.dsn)
			}
			if errors.Is(err, ErrNoChange) {
				t.Error("Run should not surface ErrNoChange")
			}
		})
	}
}

func TestVersion_EmptyDSN(t *testing.T) {
	if _, _, err := Version(""); !errors.Is(err, ErrNoDSN) {
		t.Errorf("Version err = %v, want ErrNoDSN", err)
	}
}

func TestSourceDriver_EmbeddedMigrations(t *testing.T) {
	src, err := sourceDriver()
	if err != nil {
		t.Fatalf("sourceDriver: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first != 1 {
		t.Errorf("first version = %d, want 1", first)
	}
	next, err := src.Next(first)
	if err != nil {
		t.Fatalf("Next(%d): %v", first, err)
	}
	if next != 2 {
		t.Errorf("second version = %d, want 2", next)
	}
}
