package warmpool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

// yamlPoolConfig mirrors TemplatePoolConfig with plain-integer seconds so
// the on-disk format stays a human-editable YAML file rather than
// requiring Go duration syntax.
type yamlPoolConfig struct {
	PoolSize       int `yaml:"pool_size"`
	MinSize        int `yaml:"min_size"`
	MaxIdleSeconds int `yaml:"max_idle_seconds"`
}

// LoadConfigFile reads a per-template warm pool sizing policy from a YAML
// file shaped like:
//
//	python-basic:
//	  pool_size: 3
//	  min_size: 1
//	  max_idle_seconds: 180
//
// A missing path is not an error: every template simply falls back to
// domain.DefaultTemplatePoolConfig.
func LoadConfigFile(path string) (map[string]domain.TemplatePoolConfig, error) {
	if path == "" {
		return map[string]domain.TemplatePoolConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.TemplatePoolConfig{}, nil
		}
		return nil, fmt.Errorf("read warm pool config %s: %w", path, err)
	}

	var parsed map[string]yamlPoolConfig
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse warm pool config %s: %w", path, err)
	}

	out := make(map[string]domain.TemplatePoolConfig, len(parsed))
	for templateID, cfg := range parsed {
		out[templateID] = domain.TemplatePoolConfig{
			PoolSize:    cfg.PoolSize,
			MinSize:     cfg.MinSize,
			MaxIdleTime: time.Duration(cfg.MaxIdleSeconds) * time.Second,
		}
	}
	return out, nil
}
