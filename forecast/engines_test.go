package forecast

import (
	"context"
	"reflect"
	"testing"
	"time"

	"encore.app/pkg/models"
)

func TestLoadEnginesConfig_Defaults(t *testing.T) {
	cfg, err := LoadEnginesConfig([]byte("engines:\n  - name: tarot\n"))
	if err != nil {
		t.Fatalf("LoadEnginesConfig failed: %v", err)
	}
	if len(cfg.Engines) != 1 {
		t.Fatalf("expected 1 engine, got %d", len(cfg.Engines))
	}

	spec := cfg.Engines[0]
	if spec.Namespace != "engine-tarot" {
		t.Errorf("namespace = %q, want engine-tarot", spec.Namespace)
	}
	if spec.TimeoutMs != 2000 {
		t.Errorf("timeout = %d, want 2000", spec.TimeoutMs)
	}
	if spec.TTLSeconds != 3600 {
		t.Errorf("ttl = %d, want 3600", spec.TTLSeconds)
	}
}

func TestLoadEnginesConfig_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "engines:\n  - namespace: engine-x\n"},
		{"duplicate name", "engines:\n  - name: tarot\n  - name: tarot\n"},
		{"malformed yaml", "engines: [unclosed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadEnginesConfig([]byte(tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDefaultEnginesConfig(t *testing.T) {
	cfg := DefaultEnginesConfig()
	if len(cfg.Engines) == 0 {
		t.Fatal("default config has no engines")
	}

	found := false
	for _, spec := range cfg.Engines {
		if spec.Name == "numerology" {
			found = true
			if spec.Namespace != "engine-numerology" {
				t.Errorf("numerology namespace = %q", spec.Namespace)
			}
		}
	}
	if !found {
		t.Error("numerology missing from default config")
	}
}

func TestEngineRegistry_Active(t *testing.T) {
	cfg := &EnginesConfig{Engines: []EngineSpec{
		{Name: "numerology", Namespace: "engine-numerology", TimeoutMs: 2000, TTLSeconds: 3600},
		{Name: "tarot", Namespace: "engine-tarot", TimeoutMs: 2000, TTLSeconds: 3600, Disabled: true},
		{Name: "astrology", Namespace: "engine-astrology", TimeoutMs: 2000, TTLSeconds: 3600},
	}}

	registry := NewEngineRegistry(cfg)
	registry.Register(NumerologyEngine{})
	// tarot is disabled, astrology has no client registered

	active := registry.Active()
	if len(active) != 1 {
		t.Fatalf("active engines = %d, want 1", len(active))
	}
	if active[0].Spec.Name != "numerology" {
		t.Errorf("active engine = %q, want numerology", active[0].Spec.Name)
	}
}

func TestNumerologyEngine_Deterministic(t *testing.T) {
	engine := NumerologyEngine{}
	subject := models.SubjectProfile{
		SubjectID: "subject-1",
		Epoch:     time.Date(1990, time.March, 15, 0, 0, 0, 0, time.UTC),
	}
	date := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

	first, err := engine.Compute(context.Background(), subject, date)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := engine.Compute(context.Background(), subject, date)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if first.Summary != second.Summary {
		t.Errorf("summary not deterministic: %q vs %q", first.Summary, second.Summary)
	}
	if !reflect.DeepEqual(first.Data, second.Data) {
		t.Errorf("data not deterministic: %v vs %v", first.Data, second.Data)
	}

	day, ok := first.Data["day_number"].(int)
	if !ok || day < 1 || day > 9 {
		t.Errorf("day_number = %v, want int in [1,9]", first.Data["day_number"])
	}
	if first.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", first.Confidence)
	}
	if len(first.Themes) == 0 {
		t.Error("reading carries no themes")
	}
}

func TestDigitRoot(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 9},
		{5, 5},
		{9, 9},
		{10, 1},
		{38, 2},
		{99, 9},
		{1990, 1},
	}

	for _, tc := range cases {
		if got := digitRoot(tc.in); got != tc.want {
			t.Errorf("digitRoot(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDateDigits(t *testing.T) {
	// 2024-06-15 -> 2+0+2+4+0+6+1+5 = 20
	date := time.Date(2024, time.June, 15, 12, 30, 0, 0, time.UTC)
	if got := dateDigits(date); got != 20 {
		t.Errorf("dateDigits = %d, want 20", got)
	}
}
