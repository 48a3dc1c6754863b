package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/internal/config"
)

// staticFile is the YAML shape of a static host list.
type staticFile struct {
	Hosts []staticHost `yaml:"hosts"`
}

type staticHost struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"`
	Tags    map[string]string `yaml:"tags,omitempty"`
}

// StaticSource serves hosts from a YAML file; grouping rules are identical
// to the ec2 source.
type StaticSource struct {
	path string
}

// NewStaticSource builds a source from the inventory configuration. Relative
// paths resolve against baseDir (the directory containing conveyor.yaml).
func NewStaticSource(cfg *config.InventoryConfig, baseDir string) (*StaticSource, error) {
	if cfg.StaticFile == "" {
		return nil, fmt.Errorf("static inventory requires staticFile")
	}
	path := cfg.StaticFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return &StaticSource{path: path}, nil
}

// Resolve reads and validates the host list.
func (s *StaticSource) Resolve(_ context.Context) ([]Host, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read static inventory: %w", err)
	}

	var doc staticFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse static inventory %q: %w", s.path, err)
	}

	hosts := make([]Host, 0, len(doc.Hosts))
	for i, h := range doc.Hosts {
		if h.Address == "" {
			return nil, fmt.Errorf("static inventory %q: host %d has no address", s.path, i)
		}
		name := h.Name
		if name == "" {
			name = h.Address
		}
		hosts = append(hosts, Host{Name: name, Address: h.Address, Tags: h.Tags})
	}
	return hosts, nil
}

// NewSource selects the configured inventory source.
func NewSource(cfg *config.InventoryConfig, baseDir string, ec2Opts ...EC2Option) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no inventory configured")
	}
	switch cfg.Source {
	case "ec2":
		return NewEC2Source(cfg, ec2Opts...)
	case "static":
		return NewStaticSource(cfg, baseDir)
	default:
		return nil, fmt.Errorf("inventory source %q is not supported", cfg.Source)
	}
}
