package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetSecret(t *testing.T) {
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "dsn")
	if err := os.WriteFile(secretFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	t.Run("file wins over env", func(t *testing.T) {
		t.Setenv("TEST_SECRET", "from-env")
		t.Setenv("TEST_SECRET_FILE", secretFile)
		got, err := GetSecret("TEST_SECRET", "default")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "from-file" {
			t.Errorf("got %q, want %q", got, "from-file")
		}
	})

	t.Run("env when no file", func(t *testing.T) {
		t.Setenv("TEST_SECRET", "from-env")
		got, _ := GetSecret("TEST_SECRET", "default")
		if got != "from-env" {
			t.Errorf("got %q, want %q", got, "from-env")
		}
	})

	t.Run("default when unset", func(t *testing.T) {
		got, _ := GetSecret("TEST_SECRET_UNSET", "default")
		if got != "default" {
			t.Errorf("got %q, want %q", got, "default")
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		t.Setenv("TEST_SECRET_FILE", filepath.Join(dir, "nope"))
		if _, err := GetSecret("TEST_SECRET", ""); err == nil {
			t.Error("expected error for unreadable secret file")
		}
		if got := GetOptionalSecret("TEST_SECRET", "fallback"); got != "fallback" {
			t.Errorf("optional secret: got %q, want fallback", got)
		}
	})
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "(not set)"},
		{"short", "****"},
		{"https://discord.com/api/webhooks/123/abc", "http****/abc"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
