package ranking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// RuleGroup holds the rule templates of one option category.
type RuleGroup struct {
	Templates map[string]map[string]float64 `json:"templates" yaml:"templates"`
}

// RuleTable maps value type -> option category -> rule group.
type RuleTable map[string]map[string]RuleGroup

// Lookup returns the score of a stored value under a rule
func (t RuleTable) Lookup(valueType, optionCategory, rule, value string) (float64, bool) {
	group, ok := t[valueType][optionCategory]
	if !ok {
		return 0, false
	}
	score, ok := group.Templates[rule][value]
	return score, ok
}

// ScoringConfig is the static scoring configuration consumed at ranking time
type ScoringConfig struct {
	Categories []string
	Rules      RuleTable
}

type categoriesDocument struct {
	Categories []string `json:"Categories" yaml:"Categories"`
}

// LoadScoringConfig reads the categories and rules documents. Files ending in
// .yaml or .yml are decoded as YAML, anything else as JSON. Structural
// problems are reported as configuration errors.
func LoadScoringConfig(categoriesPath, rulesPath string) (*ScoringConfig, error) {
	var cats categoriesDocument
	if err := decodeFile(categoriesPath, &cats); err != nil {
		return nil, err
	}

	var rules RuleTable
	if err := decodeFile(rulesPath, &rules); err != nil {
		return nil, err
	}

	cfg := &ScoringConfig{Categories: cats.Categories, Rules: rules}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems
func (c *ScoringConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Categories))
	for i, name := range c.Categories {
		if strings.TrimSpace(name) == "" {
			return apperrors.NewConfigurationError(fmt.Sprintf("category %d has an empty name", i), nil)
		}
		if _, dup := seen[name]; dup {
			return apperrors.NewConfigurationError(fmt.Sprintf("category %q is listed twice", name), nil)
		}
		seen[name] = struct{}{}
	}

	for kind, groups := range c.Rules {
		for option, group := range groups {
			if group.Templates == nil {
				return apperrors.NewConfigurationError(
					fmt.Sprintf("rules %s/%s have no templates", kind, option), nil)
			}
		}
	}
	return nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("failed to read scoring document %s", path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(out)
	}
	if err != nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("scoring document %s has an unexpected structure", path), err)
	}
	return nil
}
