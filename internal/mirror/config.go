package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/eugenenazirov/binary-mirror/internal/ordered"
)

// DefaultRegion is the mirror set used when none is configured.
const DefaultRegion = "china"

const envsKey = "ENVS"

// ErrInvalidDocument indicates the mirror document could not be decoded.
var ErrInvalidDocument = errors.New("invalid mirror document")

// Config maps package names to mirror descriptors and carries the
// environment variables that point installers at the mirror. It is built
// once and never modified afterwards.
type Config struct {
	mirrors map[string]*Descriptor
	envs    map[string]string
}

// Empty returns a Config without any mirror entries.
func Empty() *Config {
	return &Config{
		mirrors: map[string]*Descriptor{},
		envs:    map[string]string{},
	}
}

// Parse decodes the mirror set for region from a mirror document of the form
// {"mirrors": {"<region>": {"<package>": {...}, "ENVS": {...}}}}.
func Parse(data []byte, region string) (*Config, error) {
	if region == "" {
		region = DefaultRegion
	}

	var doc struct {
		Mirrors map[string]json.RawMessage `json:"mirrors"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	rawSet, ok := doc.Mirrors[region]
	if !ok {
		return nil, fmt.Errorf("%w: region %q not found", ErrInvalidDocument, region)
	}

	set, err := ordered.Parse(rawSet)
	if err != nil {
		return nil, fmt.Errorf("%w: region %q: %v", ErrInvalidDocument, region, err)
	}

	cfg := Empty()
	for _, name := range set.Keys() {
		if name == envsKey {
			if _, err := set.Decode(name, &cfg.envs); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
			if cfg.envs == nil {
				cfg.envs = map[string]string{}
			}
			continue
		}

		descriptor := &Descriptor{}
		if _, err := set.Decode(name, descriptor); err != nil {
			return nil, fmt.Errorf("%w: package %q: %v", ErrInvalidDocument, name, err)
		}
		cfg.mirrors[name] = descriptor
	}
	return cfg, nil
}

// Lookup returns the descriptor for a package.
func (c *Config) Lookup(name string) (*Descriptor, bool) {
	d, ok := c.mirrors[name]
	return d, ok
}

// Names returns the mirrored package names, sorted.
func (c *Config) Names() []string {
	return slices.Sorted(maps.Keys(c.mirrors))
}

// Len reports the number of mirrored packages.
func (c *Config) Len() int {
	return len(c.mirrors)
}

// Envs returns a copy of the mirror environment variables.
func (c *Config) Envs() map[string]string {
	return maps.Clone(c.envs)
}

// SetEnvs copies every mirror environment variable into env, overwriting
// existing values, and returns env. Keys that are not configured are left
// alone. A nil env is replaced by a new map.
func (c *Config) SetEnvs(env map[string]string) map[string]string {
	if env == nil {
		env = make(map[string]string, len(c.envs))
	}
	for key, value := range c.envs {
		env[key] = value
	}
	return env
}

// Environ applies the mirror environment variables to a KEY=VALUE list as used
// by os/exec. Configured keys replace existing entries in place; the rest are
// appended in sorted order.
func (c *Config) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(c.envs))
	applied := make(map[string]bool, len(c.envs))

	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if value, ok := c.envs[key]; ok {
			if applied[key] {
				continue
			}
			applied[key] = true
			out = append(out, key+"="+value)
			continue
		}
		out = append(out, entry)
	}

	for _, key := range slices.Sorted(maps.Keys(c.envs)) {
		if !applied[key] {
			out = append(out, key+"="+c.envs[key])
		}
	}
	return out
}
