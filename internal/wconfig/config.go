// Package wconfig provides YAML configuration parsing and validation for
// the wlink driver. Configuration is loaded from a YAML file specified via
// the link subcommand's -c flag and governs everything the global linker needs beyond
// the object files themselves: the target machine descriptor, the host
// platform descriptor, and the dead-code-elimination root set.
package wconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Target machine
// ---------------------------------------------------------------------------

// TargetMachineConfig describes the wBPF accelerator variant being linked
// for.
type TargetMachineConfig struct {
	// Name identifies the accelerator variant, e.g. "wbpf-pe4".
	Name string `yaml:"name"`
	// Helpers maps helper-call import names to their numeric indices on
	// this target.
	Helpers map[string]int `yaml:"helpers"`
}

// ---------------------------------------------------------------------------
// Host platform
// ---------------------------------------------------------------------------

// HostPlatformConfig describes the runtime environment hosting the
// accelerator.
type HostPlatformConfig struct {
	// DataOffset is the base offset reserved for the host within data
	// memory; every data-section placement is recorded relative to it.
	DataOffset uint32 `yaml:"dataOffset"`
	// Helpers maps additional helper-call import names to their numeric
	// indices, contributed by the host rather than the target machine.
	Helpers map[string]int `yaml:"helpers"`
}

// ---------------------------------------------------------------------------
// Link (top-level)
// ---------------------------------------------------------------------------

// LinkConfig is the root configuration for a wlink invocation. It is
// populated by parsing a YAML file with ParseFile.
type LinkConfig struct {
	// TargetMachine describes the accelerator variant.
	TargetMachine TargetMachineConfig `yaml:"targetMachine"`
	// HostPlatform describes the hosting runtime.
	HostPlatform HostPlatformConfig `yaml:"hostPlatform"`
	// DCERoots names the functions global dead-code elimination is rooted
	// at. A function not reachable from any root is dropped from the
	// emitted image. Empty means DCE is skipped entirely.
	DCERoots []string `yaml:"dceRoots"`
	// Objects lists the relocatable object files to link, in link order.
	Objects []string `yaml:"objects"`
	// Output is the path the serialized image is written to.
	Output string `yaml:"output"`
}

// ---------------------------------------------------------------------------
// ParseFile / Parse
// ---------------------------------------------------------------------------

// ParseFile reads the YAML file at path, applies defaults, and validates
// the resulting configuration. It returns the validated LinkConfig or an
// error describing every validation failure, not just the first one.
func ParseFile(path string) (*LinkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults, and validates the
// configuration. Callers who already have the YAML in memory (e.g. tests)
// should use this function directly.
func Parse(data []byte) (*LinkConfig, error) {
	var cfg LinkConfig
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true) // reject unrecognized YAML keys
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	return &cfg, nil
}

// applyDefaults fills in omitted fields with sensible values. Called by
// Parse before validation so that validation can rely on defaults being
// present.
func applyDefaults(cfg *LinkConfig) {
	if cfg.TargetMachine.Helpers == nil {
		cfg.TargetMachine.Helpers = map[string]int{}
	}
	if cfg.HostPlatform.Helpers == nil {
		cfg.HostPlatform.Helpers = map[string]int{}
	}
	if cfg.Output == "" {
		cfg.Output = "a.wimg"
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

// Validate checks cfg for semantic errors and returns all of them at once
// so operators can see and fix every problem in a single run. An empty
// slice means the configuration is valid.
func Validate(cfg *LinkConfig) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(cfg.Objects) == 0 {
		add("objects must list at least one input object file")
	}
	seenObj := map[string]struct{}{}
	for i, o := range cfg.Objects {
		if o == "" {
			add("objects[%d] must not be empty", i)
			continue
		}
		if _, dup := seenObj[o]; dup {
			add("objects[%d] %q is duplicated", i, o)
		}
		seenObj[o] = struct{}{}
	}

	for name, idx := range cfg.TargetMachine.Helpers {
		if idx < 0 {
			add("targetMachine.helpers[%q] = %d must be >= 0", name, idx)
		}
	}
	for name, idx := range cfg.HostPlatform.Helpers {
		if idx < 0 {
			add("hostPlatform.helpers[%q] = %d must be >= 0", name, idx)
		}
	}

	seenRoot := map[string]struct{}{}
	for i, r := range cfg.DCERoots {
		if r == "" {
			add("dceRoots[%d] must not be empty", i)
			continue
		}
		if _, dup := seenRoot[r]; dup {
			add("dceRoots[%d] %q is duplicated", i, r)
		}
		seenRoot[r] = struct{}{}
	}

	return errs
}
