package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/settings"
	"github.com/netpush-network/netpush/pkg/transaction"
	"github.com/netpush-network/netpush/pkg/util"
)

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vlan.yaml")
	if err := os.WriteFile(path, []byte("kind: vlan\nvlan_id: 100\nname: Finance\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"generate", path, "--settings", filepath.Join(dir, "settings.json")})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := "configure terminal\nvlan 100\nname Finance\nend\n"
	if got := out.String(); !strings.Contains(got, want) {
		t.Errorf("output = %q, want it to contain %q", got, want)
	}
}

func TestLoadIntent(t *testing.T) {
	s := &settings.Settings{}
	ctx := context.Background()

	if _, err := loadIntent(ctx, s, nil, ""); err == nil {
		t.Error("loadIntent() with no source succeeded")
	}
	if _, err := loadIntent(ctx, s, []string{"x.yaml"}, "create vlan 5"); err == nil {
		t.Error("loadIntent() with file and request succeeded")
	}
	if _, err := loadIntent(ctx, s, nil, "create vlan 5"); err == nil || !strings.Contains(err.Error(), "parser_url") {
		t.Errorf("loadIntent() without parser_url error = %v", err)
	}
}

func TestFindBackup(t *testing.T) {
	store, err := backup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	old := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	newer := old.Add(time.Hour)
	for _, b := range []*backup.Backup{
		{Address: "10.0.0.1", TakenAt: old, Config: "hostname old\n"},
		{Address: "10.0.0.1", TakenAt: newer, Config: "hostname new\n"},
	} {
		if _, err := store.Save(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		which string
		want  string
	}{
		{"0", "hostname new\n"},
		{"1", "hostname old\n"},
		{old.Format(time.RFC3339Nano), "hostname old\n"},
	}
	for _, tt := range tests {
		b, err := findBackup(ctx, store, "10.0.0.1", tt.which)
		if err != nil {
			t.Errorf("findBackup(%q) error = %v", tt.which, err)
			continue
		}
		if b.Config != tt.want {
			t.Errorf("findBackup(%q).Config = %q, want %q", tt.which, b.Config, tt.want)
		}
	}

	for _, which := range []string{"2", "-1", "latest"} {
		if _, err := findBackup(ctx, store, "10.0.0.1", which); err == nil {
			t.Errorf("findBackup(%q) succeeded", which)
		}
	}
	if _, err := findBackup(ctx, store, "10.0.0.1", newer.Add(time.Minute).Format(time.RFC3339Nano)); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("findBackup(unknown time) error = %v, want ErrNotFound", err)
	}
}

func TestPrintResults(t *testing.T) {
	results := deploy.Results{
		"10.0.0.2": {Address: "10.0.0.2", Status: transaction.StatusFailed, Attempts: 1, Error: "validation mismatch",
			Rollback: &transaction.RollbackOutcome{Attempted: true, Succeeded: true, Verified: true}},
		"10.0.0.1": {Address: "10.0.0.1", Status: transaction.StatusSuccess, Attempts: 1},
		"10.0.0.3": {Address: "10.0.0.3", Status: transaction.StatusSuccess, Attempts: 1, SaveError: "timeout"},
	}

	var out bytes.Buffer
	if err := printResults(&out, results); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	first, second := strings.Index(got, "10.0.0.1"), strings.Index(got, "10.0.0.2")
	if first < 0 || second < 0 || first > second {
		t.Errorf("output = %q, want both devices in key order", got)
	}
	if !strings.Contains(got, "validation mismatch") {
		t.Errorf("output = %q, want the error column", got)
	}
	if !strings.Contains(got, "not saved: timeout") {
		t.Errorf("output = %q, want the save failure shown", got)
	}
	if !strings.Contains(got, "3 devices:") {
		t.Errorf("output = %q, want the summary line", got)
	}
}

func TestSettingValue(t *testing.T) {
	s := &settings.Settings{Concurrency: 8}
	if got := settingValue(s, "concurrency"); got != "8" {
		t.Errorf("settingValue(concurrency) = %q, want %q", got, "8")
	}
	if got := settingValue(s, "retry_attempts"); got != "3" {
		t.Errorf("settingValue(retry_attempts) = %q, want %q", got, "3")
	}
	if got := settingValue(s, "parser_url"); got != "(not set)" {
		t.Errorf("settingValue(parser_url) = %q, want %q", got, "(not set)")
	}
	for _, key := range settings.Keys() {
		if !isSettingKey(key) {
			t.Errorf("isSettingKey(%q) = false", key)
		}
	}
	if isSettingKey("password") {
		t.Error("isSettingKey(password) = true")
	}
}
