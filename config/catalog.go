package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
)

// Catalog is the content of an achievement catalog file. Achievements keep
// file order, which is also their evaluation order.
type Catalog struct {
	Achievements []progression.AchievementDefinition
	Challenges   []progression.Challenge
}

type catalogFile struct {
	Achievements []catalogAchievement `yaml:"achievements"`
	Challenges   []catalogChallenge   `yaml:"challenges"`
}

// catalogAchievement defaults is_active to true and timeframe to all_time.
type catalogAchievement progression.AchievementDefinition

func (a *catalogAchievement) UnmarshalYAML(node *yaml.Node) error {
	type plain progression.AchievementDefinition
	p := plain{IsActive: true, Timeframe: progression.TimeframeAllTime}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = catalogAchievement(p)
	return nil
}

type catalogChallenge progression.Challenge

func (c *catalogChallenge) UnmarshalYAML(node *yaml.Node) error {
	type plain progression.Challenge
	p := plain{IsActive: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = catalogChallenge(p)
	return nil
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		Achievements: make([]progression.AchievementDefinition, 0, len(f.Achievements)),
		Challenges:   make([]progression.Challenge, 0, len(f.Challenges)),
	}
	for _, a := range f.Achievements {
		c.Achievements = append(c.Achievements, progression.AchievementDefinition(a))
	}
	for _, ch := range f.Challenges {
		c.Challenges = append(c.Challenges, progression.Challenge(ch))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every definition and rejects duplicate IDs.
func (c *Catalog) Validate() error {
	var errs []error

	seen := make(map[string]struct{}, len(c.Achievements))
	for _, def := range c.Achievements {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[def.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate achievement id %q", def.ID))
		}
		seen[def.ID] = struct{}{}
	}

	challenges := make(map[string]struct{}, len(c.Challenges))
	for _, ch := range c.Challenges {
		switch {
		case ch.ID == "":
			errs = append(errs, errors.New("challenge id is required"))
		case ch.BaseReward < 0:
			errs = append(errs, fmt.Errorf("challenge %q: base_reward must be non-negative", ch.ID))
		}
		if _, dup := challenges[ch.ID]; dup && ch.ID != "" {
			errs = append(errs, fmt.Errorf("duplicate challenge id %q", ch.ID))
		}
		challenges[ch.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}
