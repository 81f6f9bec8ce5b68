package audit

import (
	"regexp"
	"testing"
)

// techniqueIDPattern matches MITRE ATLAS technique IDs: AML.T####.
var techniqueIDPattern = regexp.MustCompile(`^AML\.T\d{4}$`)

func TestTechniqueForStage_AllMappedEntries(t *testing.T) {
	tests := []struct {
		stage     string
		technique string
	}{
		{"length", "AML.T0029"},
		{"keyword", "AML.T0051"},
		{"semantic", "AML.T0054"},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			got := TechniqueForStage(tt.stage)
			if got != tt.technique {
				t.Errorf("TechniqueForStage(%q) = %q, want %q", tt.stage, got, tt.technique)
			}
		})
	}
}

func TestTechniqueForStage_UnmappedReturnsEmpty(t *testing.T) {
	unmapped := []string{
		"",
		"redaction",
		"config_reload",
		"oracle_degraded",
		"startup",
		"nonexistent",
	}

	for _, stage := range unmapped {
		t.Run(stage, func(t *testing.T) {
			got := TechniqueForStage(stage)
			if got != "" {
				t.Errorf("TechniqueForStage(%q) = %q, want empty string", stage, got)
			}
		})
	}
}

func TestTechniqueMap_AllValuesAreValidFormat(t *testing.T) {
	for stage, technique := range techniqueMap {
		t.Run(stage, func(t *testing.T) {
			if !techniqueIDPattern.MatchString(technique) {
				t.Errorf("techniqueMap[%q] = %q, not a valid MITRE ATLAS technique ID (expected AML.T####)", stage, technique)
			}
		})
	}
}

func TestTechniqueMap_EntryCount(t *testing.T) {
	// Catch accidental deletions during refactoring: one entry per
	// blocking stage that represents an attack.
	const expectedEntries = 3
	if len(techniqueMap) != expectedEntries {
		t.Errorf("techniqueMap has %d entries, expected %d (was an entry added or removed?)", len(techniqueMap), expectedEntries)
	}
}
