package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitializeDefaults(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { v = nil })

	s := Load()
	if s.FeedPollInterval != 5*time.Second {
		t.Errorf("FeedPollInterval = %v, want 5s", s.FeedPollInterval)
	}
	if s.FeedBatchSize != 100 {
		t.Errorf("FeedBatchSize = %d, want 100", s.FeedBatchSize)
	}
	if s.NcpdpBatchSize != 50 {
		t.Errorf("NcpdpBatchSize = %d, want 50", s.NcpdpBatchSize)
	}
	if s.NcpdpMaxRetries != 3 {
		t.Errorf("NcpdpMaxRetries = %d, want 3", s.NcpdpMaxRetries)
	}
	if s.NcpdpStuckAfter != 30*time.Minute {
		t.Errorf("NcpdpStuckAfter = %v, want 30m", s.NcpdpStuckAfter)
	}
	if s.SftpPoolSize != 5 {
		t.Errorf("SftpPoolSize = %d, want 5", s.SftpPoolSize)
	}
	if s.CheckSeparateTx {
		t.Error("CheckSeparateTx default should be false")
	}
}

func TestInitializeFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remit.yaml")
	content := "ncpdp:\n  batchSize: 7\n  maxRetries: 9\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { v = nil })

	if got := GetInt(KeyNcpdpBatchSize); got != 7 {
		t.Errorf("ncpdp.batchSize = %d, want 7", got)
	}
	if got := GetInt(KeyNcpdpMaxRetries); got != 9 {
		t.Errorf("ncpdp.maxRetries = %d, want 9", got)
	}
	// Untouched keys keep defaults.
	if got := GetInt(KeyFeedBatchSize); got != 100 {
		t.Errorf("changefeed.batchSize = %d, want 100", got)
	}
}

func TestNilSafety(t *testing.T) {
	saved := v
	v = nil
	t.Cleanup(func() { v = saved })

	if got := GetString(KeyDatabasePath); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetInt(KeyFeedBatchSize); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if GetBool(KeyCheckSeparateTx) {
		t.Error("GetBool with nil viper = true, want false")
	}
}
