package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines a flush scenario: a set of units of work registered with
// one controller, flushed once, and checked with assertions.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ForceSynchronous pins every flush-set entry to the caller's lane.
	ForceSynchronous bool `yaml:"force_synchronous,omitempty"`

	// MaxAsyncWorkers bounds concurrent worker lanes. Zero means unbounded.
	MaxAsyncWorkers int `yaml:"max_async_workers,omitempty"`

	// OperationID is an optional fixed operation id.
	// If empty, defaults to "test-operation-default" for deterministic golden files.
	OperationID string `yaml:"operation_id,omitempty"`

	// Units are registered in order.
	Units []UnitSpec `yaml:"units"`

	// Assertions validate the flush outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// UnitSpec describes one unit of work.
//
// A unit with Writes is backed by a store.Batch against the run's store;
// otherwise it is a recording fake that can be told to fail or panic.
type UnitSpec struct {
	// Name identifies the unit in assertions and events.
	Name string `yaml:"name"`

	// Group is the flush-group key. Empty means no group.
	Group string `yaml:"group,omitempty"`

	// Sync forces this unit to flush on the caller's lane.
	Sync bool `yaml:"sync,omitempty"`

	// Clean registers the unit with no pending changes.
	Clean bool `yaml:"clean,omitempty"`

	// Fail makes Flush return an error with this message.
	Fail string `yaml:"fail,omitempty"`

	// Panic makes Flush panic with this message.
	Panic string `yaml:"panic,omitempty"`

	// Register is how many times the same instance is registered. Default 1.
	Register int `yaml:"register,omitempty"`

	// Writes are staged as kv puts in a store.Batch.
	Writes map[string]any `yaml:"writes,omitempty"`
}

// Registrations returns how many times the unit is registered.
func (u UnitSpec) Registrations() int {
	if u.Register <= 0 {
		return 1
	}
	return u.Register
}

// Assertion validates the outcome of a scenario run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "on_caller": every listed unit flushed on the caller's lane
	// - "off_caller": every listed unit flushed on a worker lane
	// - "same_lane": every listed unit flushed on one lane
	// - "flush_count": unit flushed exactly Count times
	// - "not_flushed": none of the listed units flushed
	// - "flush_error": Flush failed; optional Contains substring and failure Count
	// - "flush_succeeds": Flush returned nil
	// - "stored": kv Key holds Value after the flush
	Type string `yaml:"type"`

	// Units lists unit names (on_caller, off_caller, same_lane, not_flushed).
	Units []string `yaml:"units,omitempty"`

	// Unit is a single unit name (flush_count).
	Unit string `yaml:"unit,omitempty"`

	// Count is the expected number (flush_count, flush_error).
	Count int `yaml:"count,omitempty"`

	// Contains is a substring of the expected flush error (flush_error).
	Contains string `yaml:"contains,omitempty"`

	// Key is a kv key (stored).
	Key string `yaml:"key,omitempty"`

	// Value is the expected value at Key (stored), compared as canonical JSON.
	// Nil asserts the key is absent.
	Value any `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertOnCaller      = "on_caller"
	AssertOffCaller     = "off_caller"
	AssertSameLane      = "same_lane"
	AssertFlushCount    = "flush_count"
	AssertNotFlushed    = "not_flushed"
	AssertFlushError    = "flush_error"
	AssertFlushSucceeds = "flush_succeeds"
	AssertStored        = "stored"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// DiscoverScenarios returns the scenario files in dir matching pattern,
// sorted by path. An empty pattern matches every *.yaml and *.yml file.
func DiscoverScenarios(dir, pattern string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var paths []string
	for _, glob := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, glob))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}

	if pattern != "" {
		filtered := paths[:0]
		for _, p := range paths {
			ok, err := filepath.Match(pattern, filepath.Base(p))
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
			}
			if ok {
				filtered = append(filtered, p)
			}
		}
		paths = filtered
	}

	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.MaxAsyncWorkers < 0 {
		return fmt.Errorf("max_async_workers must be non-negative")
	}

	if len(s.Units) == 0 {
		return fmt.Errorf("units list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Units))
	for i, u := range s.Units {
		if u.Name == "" {
			return fmt.Errorf("units[%d]: name is required", i)
		}
		if names[u.Name] {
			return fmt.Errorf("units[%d]: duplicate unit name %q", i, u.Name)
		}
		names[u.Name] = true

		if u.Register < 0 {
			return fmt.Errorf("units[%d]: register must be non-negative", i)
		}
		if u.Fail != "" && u.Panic != "" {
			return fmt.Errorf("units[%d]: fail and panic are mutually exclusive", i)
		}
		if len(u.Writes) > 0 {
			if u.Fail != "" || u.Panic != "" {
				return fmt.Errorf("units[%d]: a unit with writes cannot fail or panic", i)
			}
			if u.Clean {
				return fmt.Errorf("units[%d]: a unit with writes cannot be clean", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], names); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, units map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	checkUnits := func(min int) error {
		if len(a.Units) < min {
			return fmt.Errorf("assertions[%d]: %s requires at least %d unit(s)", index, a.Type, min)
		}
		for _, name := range a.Units {
			if !units[name] {
				return fmt.Errorf("assertions[%d]: unknown unit %q", index, name)
			}
		}
		return nil
	}

	switch a.Type {
	case AssertOnCaller, AssertOffCaller, AssertNotFlushed:
		return checkUnits(1)
	case AssertSameLane:
		return checkUnits(2)
	case AssertFlushCount:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: unit is required for flush_count", index)
		}
		if !units[a.Unit] {
			return fmt.Errorf("assertions[%d]: unknown unit %q", index, a.Unit)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for flush_count", index)
		}
	case AssertFlushError:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for flush_error", index)
		}
	case AssertFlushSucceeds:
	case AssertStored:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for stored", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
