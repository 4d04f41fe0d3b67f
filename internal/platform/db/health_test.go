package db

import (
	"testing"
	"time"
)

func TestHealth_Assess(t *testing.T) {
	at := time.Now()
	tests := []struct {
		name     string
		statuses []MigrationStatus
		status   string
		pending  int
		modified int
	}{
		{"no migrations", nil, "healthy", 0, 0},
		{"all applied", []MigrationStatus{
			{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &at},
		}, "healthy", 0, 0},
		{"pending", []MigrationStatus{
			{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &at},
			{Version: 2, Name: "002_time_units.sql"},
			{Version: 3, Name: "003_destination_results.sql"},
		}, "degraded", 2, 0},
		{"modified", []MigrationStatus{
			{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &at, Modified: true},
		}, "degraded", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Health{}
			h.assess(tt.statuses)
			if h.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, h.Status)
			}
			if len(h.PendingMigrations) != tt.pending || len(h.ModifiedMigrations) != tt.modified {
				t.Errorf("expected %d pending and %d modified, got %v and %v",
					tt.pending, tt.modified, h.PendingMigrations, h.ModifiedMigrations)
			}
		})
	}
}
