package forecast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"encore.app/pkg/models"
)

// EngineClient is one domain computation engine. Implementations must return
// a tagged failure (error) rather than panic; a failing engine only costs its
// own reading, never the forecast.
type EngineClient interface {
	Name() string
	Compute(ctx context.Context, subject models.SubjectProfile, date time.Time) (*models.Reading, error)
}

// EngineSpec configures one engine slot in the fan-out.
type EngineSpec struct {
	Name       string `yaml:"name"`
	Namespace  string `yaml:"namespace"`   // cache namespace for this engine's readings
	TimeoutMs  int    `yaml:"timeout_ms"`  // per-call deadline
	TTLSeconds int    `yaml:"ttl_seconds"` // cache TTL for readings
	Disabled   bool   `yaml:"disabled"`
}

// EnginesConfig is the YAML-backed engine fan-out plan.
type EnginesConfig struct {
	Engines []EngineSpec `yaml:"engines"`
}

// defaultEnginesYAML is the built-in fan-out plan, overridable by config.
const defaultEnginesYAML = `
engines:
  - name: numerology
    namespace: engine-numerology
    timeout_ms: 2000
    ttl_seconds: 86400
`

// LoadEnginesConfig parses and validates a YAML engine plan.
func LoadEnginesConfig(data []byte) (*EnginesConfig, error) {
	var cfg EnginesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engines config: %w", err)
	}

	seen := make(map[string]bool)
	for i, spec := range cfg.Engines {
		if spec.Name == "" {
			return nil, fmt.Errorf("engine %d: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("engine %q listed twice", spec.Name)
		}
		seen[spec.Name] = true
		if spec.Namespace == "" {
			cfg.Engines[i].Namespace = "engine-" + spec.Name
		}
		if spec.TimeoutMs <= 0 {
			cfg.Engines[i].TimeoutMs = 2000
		}
		if spec.TTLSeconds <= 0 {
			cfg.Engines[i].TTLSeconds = 3600
		}
	}

	return &cfg, nil
}

// DefaultEnginesConfig returns the built-in plan.
func DefaultEnginesConfig() *EnginesConfig {
	cfg, err := LoadEnginesConfig([]byte(defaultEnginesYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in engines config invalid: %v", err))
	}
	return cfg
}

// EngineRegistry maps engine names to clients and pairs them with their specs.
type EngineRegistry struct {
	mu      sync.RWMutex
	clients map[string]EngineClient
	config  *EnginesConfig
}

// NewEngineRegistry creates a registry for the given plan.
func NewEngineRegistry(config *EnginesConfig) *EngineRegistry {
	return &EngineRegistry{
		clients: make(map[string]EngineClient),
		config:  config,
	}
}

// Register adds or replaces an engine client.
func (r *EngineRegistry) Register(client EngineClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
}

// Active returns the enabled (spec, client) pairs in plan order. Specs with
// no registered client are skipped; they cost nothing at fan-out time.
func (r *EngineRegistry) Active() []ActiveEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]ActiveEngine, 0, len(r.config.Engines))
	for _, spec := range r.config.Engines {
		if spec.Disabled {
			continue
		}
		client, ok := r.clients[spec.Name]
		if !ok {
			continue
		}
		active = append(active, ActiveEngine{Spec: spec, Client: client})
	}
	return active
}

// ActiveEngine is one runnable fan-out slot.
type ActiveEngine struct {
	Spec   EngineSpec
	Client EngineClient
}

// NumerologyEngine is the built-in deterministic engine: it reduces the
// subject's epoch and the target date to single-digit figures and maps them
// to fixed interpretation strings. No I/O, never fails.
type NumerologyEngine struct{}

func (NumerologyEngine) Name() string { return "numerology" }

func (NumerologyEngine) Compute(ctx context.Context, subject models.SubjectProfile, date time.Time) (*models.Reading, error) {
	lifePath := digitRoot(dateDigits(subject.Epoch))
	dayNumber := digitRoot(dateDigits(date))

	meaning := numerologyMeanings[dayNumber]

	return &models.Reading{
		Source:  "numerology",
		Summary: fmt.Sprintf("Personal day %d: %s", dayNumber, meaning.summary),
		Data: map[string]any{
			"life_path":  lifePath,
			"day_number": dayNumber,
		},
		Themes:     meaning.themes,
		Confidence: 0.7, // fixed: the model is deterministic but interpretive
	}, nil
}

// dateDigits sums the digits of a date's YYYYMMDD form.
func dateDigits(t time.Time) int {
	sum := 0
	for _, r := range t.UTC().Format("20060102") {
		sum += int(r - '0')
	}
	return sum
}

// digitRoot reduces a number to a single digit (1-9).
func digitRoot(n int) int {
	for n > 9 {
		sum := 0
		for n > 0 {
			sum += n % 10
			n /= 10
		}
		n = sum
	}
	if n == 0 {
		n = 9
	}
	return n
}

type numerologyMeaning struct {
	summary string
	themes  []string
}

var numerologyMeanings = map[int]numerologyMeaning{
	1: {"a day for initiative and fresh starts", []string{"energy", "decision"}},
	2: {"a day for cooperation and patience", []string{"relationships", "emotional"}},
	3: {"a day for expression and play", []string{"creativity", "energy"}},
	4: {"a day for structure and steady work", []string{"physical", "decision"}},
	5: {"a day for change and movement", []string{"energy", "creativity"}},
	6: {"a day for care and connection", []string{"relationships", "emotional"}},
	7: {"a day for reflection and study", []string{"mental", "rest"}},
	8: {"a day for ambition and follow-through", []string{"decision", "physical"}},
	9: {"a day for completion and letting go", []string{"rest", "emotional"}},
}

// describeEngines renders the active plan for status endpoints.
func (r *EngineRegistry) describeEngines() []string {
	active := r.Active()
	names := make([]string, 0, len(active))
	for _, e := range active {
		names = append(names, e.Spec.Name)
	}
	sort.Strings(names)
	return names
}

// String implements fmt.Stringer for log lines.
func (r *EngineRegistry) String() string {
	return "engines[" + strings.Join(r.describeEngines(), ",") + "]"
}
