// Package registry is the runtime registry adapter (C5): it resolves
// (language, version) requests to an immutable runtime descriptor.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/coreos/go-semver/semver"
	"gopkg.in/yaml.v3"

	"judged/pkg/apperrors"
)

// StageLimits mirrors the configured default limits for one stage.
type StageLimits struct {
	TimeoutMs   int64 `yaml:"timeoutMs"`
	CPUTimeMs   int64 `yaml:"cpuTimeMs"`
	MemoryBytes int64 `yaml:"memoryBytes"`
}

// Descriptor is the immutable runtime descriptor returned by Resolve.
//
// If Compiled is false, CompileCmd is ignored and the compile stage is a
// no-op success.
type Descriptor struct {
	Language    string      `yaml:"language"`
	Version     string      `yaml:"version"`
	Compiled    bool        `yaml:"compiled"`
	CompileCmd  string      `yaml:"compileCmd"`
	RunCmd      string      `yaml:"runCmd"`
	Compile     StageLimits `yaml:"compileLimits"`
	Run         StageLimits `yaml:"runLimits"`
	Aliases     []string    `yaml:"aliases"`
	// SourceFile and BinaryFile are the {src}/{bin} placeholder expansions
	// used when building the compile/run command lines.
	SourceFile string `yaml:"sourceFile"`
	BinaryFile string `yaml:"binaryFile"`
	Env        []string `yaml:"env"`

	installOrder int
}

type catalogFile struct {
	Runtimes []Descriptor `yaml:"runtimes"`
}

// Registry resolves (language, version) pairs against a loaded catalog.
type Registry struct {
	mu   sync.RWMutex
	byID map[string][]Descriptor // keyed by canonical language name
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string][]Descriptor)}
}

// LoadFile populates the registry from a YAML catalog file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtime catalog: %w", err)
	}
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse runtime catalog: %w", err)
	}
	r := New()
	for i, d := range cat.Runtimes {
		d.installOrder = i
		r.Register(d)
	}
	return r, nil
}

// Register adds a descriptor under its language name and every alias.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := append([]string{d.Language}, d.Aliases...)
	for _, k := range keys {
		if k == "" {
			continue
		}
		r.byID[k] = append(r.byID[k], d)
	}
}

// Resolve implements the C5 selection rule: among installed runtimes whose
// language matches by name or alias, return the one with the highest
// version satisfying versionSpec; ties are broken by later install order.
func (r *Registry) Resolve(language, versionSpec string) (Descriptor, error) {
	r.mu.RLock()
	candidates := append([]Descriptor(nil), r.byID[language]...)
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return Descriptor{}, apperrors.New(apperrors.RuntimeUnknown).WithMessage(fmt.Sprintf("language %q is not installed", language))
	}

	matches := candidates[:0:0]
	wildcard := versionSpec == "" || versionSpec == "*" || versionSpec == "latest"
	for _, c := range candidates {
		if wildcard || c.Version == versionSpec {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return Descriptor{}, apperrors.New(apperrors.RuntimeUnknown).WithMessage(fmt.Sprintf("no %s runtime satisfies version %q", language, versionSpec))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		vi, verr := parseVersion(matches[i].Version)
		vj, jerr := parseVersion(matches[j].Version)
		if verr == nil && jerr == nil && !vi.Equal(*vj) {
			return vi.LessThan(*vj)
		}
		return matches[i].installOrder < matches[j].installOrder
	})
	return matches[len(matches)-1], nil
}

// parseVersion pads a one- or two-part version such as "17" or "3.10"
// to the dotted-tri form semver.NewVersion accepts.
func parseVersion(v string) (*semver.Version, error) {
	if n := strings.Count(v, "."); n < 2 {
		v += strings.Repeat(".0", 2-n)
	}
	return semver.NewVersion(v)
}
