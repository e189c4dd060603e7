package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type tiersFile struct {
	Tiers map[string]Tier `yaml:"tiers"`
}

// LoadTiers reads per-user-type thresholds from a YAML document of the form
//
//	tiers:
//	  device:   {normal: 10, jail: 30}
//	  frontend: {normal: 60, jail: 180}
func LoadTiers(path string) (map[string]Tier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseTiers(raw)
}

func ParseTiers(raw []byte) (map[string]Tier, error) {
	var doc tiersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	for name, tier := range doc.Tiers {
		if tier.Normal < 0 || tier.Jail < 0 {
			return nil, fmt.Errorf("tier %q: thresholds must not be negative", name)
		}
		if tier.Jail < tier.Normal {
			return nil, fmt.Errorf("tier %q: jail (%d) below normal (%d)", name, tier.Jail, tier.Normal)
		}
	}
	return doc.Tiers, nil
}
