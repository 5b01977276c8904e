package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Roll modes.
const (
	RollModeDC        = "dc"
	RollModeTiered    = "tiered"
	RollModeNarrative = "narrative"
)

// Dependency edge types. The set is closed; unknown types normalize to
// EdgeBlock.
const (
	EdgeBlock        = "block"
	EdgePrevents     = "prevents"
	EdgeHarder       = "harder"
	EdgeAdvantage    = "advantage"
	EdgeDisadvantage = "disadvantage"
	EdgeOverride     = "override"
	EdgeTriumph      = "triumph"
	EdgeSuccess      = "success"
	EdgeFailure      = "failure"
	EdgeDespair      = "despair"
)

// Edge source kinds.
const (
	SourceCheck = "check"
	SourceGroup = "group"
)

// Ladder is the named difficulty ladder, easiest first. "harder" penalties
// step up one rung per point, clamped at the extremes.
var Ladder = []string{"easy", "regular", "hard", "extreme"}

var defaultTierDC = map[string]int{
	"easy":    10,
	"regular": 15,
	"hard":    20,
	"extreme": 25,
}

// Config models a tracker's downtime configuration YAML.
type Config struct {
	Tracker struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		RollMode string `yaml:"roll_mode"`
	} `yaml:"tracker"`
	Tiers    map[string]int          `yaml:"tiers,omitempty"`
	Phases   []Phase                 `yaml:"phases"`
	Tables   map[string][]TableEntry `yaml:"tables,omitempty"`
	Webhooks []WebhookConfig         `yaml:"webhooks,omitempty"`
}

// Phase is one ordered stage of the project. A phase is reachable only once
// every phase before it is complete.
type Phase struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Target        int     `yaml:"target,omitempty"`
	AllowCritical bool    `yaml:"allow_critical,omitempty"`
	FailureEvents bool    `yaml:"failure_events,omitempty"`
	FailureTable  string  `yaml:"failure_table,omitempty"`
	Groups        []Group `yaml:"groups,omitempty"`
	SuccessLines  []Line  `yaml:"success_lines,omitempty"`
	FailureLines  []Line  `yaml:"failure_lines,omitempty"`
	Rewards       *Reward `yaml:"rewards,omitempty"`
	Macro         string  `yaml:"macro,omitempty"`

	// Legacy single-skill shape, rewritten into Groups by Normalize.
	Skill string `yaml:"skill,omitempty"`
	DC    *int   `yaml:"dc,omitempty"`
}

// Group is a named bucket of checks. With MaxChecks > 0 the group counts as
// complete once that many contained checks are complete.
type Group struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	MaxChecks int     `yaml:"max_checks,omitempty"`
	Checks    []Check `yaml:"checks"`
}

// Check is the atomic attemptable unit of progress.
type Check struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Skill          string  `yaml:"skill"`
	DC             *int    `yaml:"dc,omitempty"`
	Tier           string  `yaml:"tier,omitempty"`
	Target         int     `yaml:"target,omitempty"`
	CompletesGroup bool    `yaml:"completes_group,omitempty"`
	CompletesPhase bool    `yaml:"completes_phase,omitempty"`
	Step           int     `yaml:"step,omitempty"`
	Rewards        *Reward `yaml:"rewards,omitempty"`
	Hook           string  `yaml:"hook,omitempty"`
	Deps           []Edge  `yaml:"deps,omitempty"`
}

// Edge is a typed directed dependency on another check or group.
type Edge struct {
	Source        string `yaml:"source"`
	Kind          string `yaml:"kind,omitempty"`
	Type          string `yaml:"type,omitempty"`
	DCPenalty     int    `yaml:"dc_penalty,omitempty"`
	OverrideSkill string `yaml:"override_skill,omitempty"`
	OverrideDC    *int   `yaml:"override_dc,omitempty"`
	OverrideTier  string `yaml:"override_tier,omitempty"`
}

// Line is a narrative line, optionally constrained to a check or group.
type Line struct {
	Text  string `yaml:"text"`
	Check string `yaml:"check,omitempty"`
	Group string `yaml:"group,omitempty"`
}

// Reward lists item grants and currency applied on completion.
type Reward struct {
	Items    []ItemReward `yaml:"items,omitempty"`
	Currency int          `yaml:"currency,omitempty"`
}

type ItemReward struct {
	Ref string `yaml:"ref"`
	Qty int    `yaml:"qty"`
}

// TableEntry is one weighted row of a random table.
type TableEntry struct {
	Text   string `yaml:"text"`
	Weight int    `yaml:"weight,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with dt tracker config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return workspace + "/downtrack.yml"
}

// FromYAML parses, normalizes, and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure. Dangling dependency
// ids are deliberately NOT an error: the resolver fails open on them.
func (c *Config) Validate() error {
	if c.Tracker.ID == "" {
		return fmt.Errorf("config.tracker.id is required")
	}
	switch c.Tracker.RollMode {
	case RollModeDC, RollModeTiered, RollModeNarrative:
	default:
		return fmt.Errorf("config.tracker.roll_mode must be one of dc, tiered, narrative")
	}
	if len(c.Phases) == 0 {
		return fmt.Errorf("config.phases is required")
	}
	seenPhases := map[string]bool{}
	for i := range c.Phases {
		p := &c.Phases[i]
		if p.ID == "" {
			return fmt.Errorf("phase %d has empty id", i)
		}
		if seenPhases[p.ID] {
			return fmt.Errorf("duplicate phase id %s", p.ID)
		}
		seenPhases[p.ID] = true
		if p.Target < 0 {
			return fmt.Errorf("phase %s has negative target", p.ID)
		}
		if p.FailureEvents && p.FailureTable != "" {
			if _, ok := c.Tables[p.FailureTable]; !ok {
				return fmt.Errorf("phase %s references unknown failure table %s", p.ID, p.FailureTable)
			}
		}
		seenChecks := map[string]bool{}
		seenGroups := map[string]bool{}
		for gi := range p.Groups {
			g := &p.Groups[gi]
			if g.ID == "" {
				return fmt.Errorf("phase %s group %d has empty id", p.ID, gi)
			}
			if seenGroups[g.ID] {
				return fmt.Errorf("phase %s has duplicate group id %s", p.ID, g.ID)
			}
			seenGroups[g.ID] = true
			if g.MaxChecks < 0 {
				return fmt.Errorf("group %s has negative max_checks", g.ID)
			}
			for ci := range g.Checks {
				ch := &g.Checks[ci]
				if ch.ID == "" {
					return fmt.Errorf("group %s check %d has empty id", g.ID, ci)
				}
				if seenChecks[ch.ID] {
					return fmt.Errorf("phase %s has duplicate check id %s", p.ID, ch.ID)
				}
				seenChecks[ch.ID] = true
				if ch.Target <= 0 {
					return fmt.Errorf("check %s has non-positive target", ch.ID)
				}
				if ch.Tier != "" && !validTier(ch.Tier) {
					return fmt.Errorf("check %s has unknown tier %s", ch.ID, ch.Tier)
				}
				for _, e := range ch.Deps {
					if e.Source == "" {
						return fmt.Errorf("check %s has dependency with empty source", ch.ID)
					}
					if e.OverrideTier != "" && !validTier(e.OverrideTier) {
						return fmt.Errorf("check %s override references unknown tier %s", ch.ID, e.OverrideTier)
					}
				}
			}
		}
	}
	for name, dc := range c.Tiers {
		if !validTier(name) {
			return fmt.Errorf("config.tiers has unknown tier %s", name)
		}
		if dc <= 0 {
			return fmt.Errorf("config.tiers.%s must be positive", name)
		}
	}
	for name, entries := range c.Tables {
		if len(entries) == 0 {
			return fmt.Errorf("table %s is empty", name)
		}
		for _, e := range entries {
			if e.Text == "" {
				return fmt.Errorf("table %s has entry with empty text", name)
			}
			if e.Weight < 0 {
				return fmt.Errorf("table %s has entry with negative weight", name)
			}
		}
	}
	return nil
}

func validTier(name string) bool {
	for _, t := range Ladder {
		if t == name {
			return true
		}
	}
	return false
}

// TierDC returns the numeric target for a named tier, honoring overrides.
func (c *Config) TierDC(tier string) int {
	if dc, ok := c.Tiers[tier]; ok && dc > 0 {
		return dc
	}
	return defaultTierDC[tier]
}

// StepTier steps a tier up the ladder by n rungs, clamped at the extremes.
func StepTier(tier string, n int) string {
	idx := 0
	for i, t := range Ladder {
		if t == tier {
			idx = i
			break
		}
	}
	idx += n
	if idx < 0 {
		idx = 0
	}
	if idx >= len(Ladder) {
		idx = len(Ladder) - 1
	}
	return Ladder[idx]
}

// PhaseTarget returns the phase's required total progress: the configured cap
// when set, otherwise the sum of contained check targets.
func (c *Config) PhaseTarget(p *Phase) int {
	if p.Target > 0 {
		return p.Target
	}
	sum := 0
	for gi := range p.Groups {
		for ci := range p.Groups[gi].Checks {
			sum += p.Groups[gi].Checks[ci].Target
		}
	}
	return sum
}

// FindPhase returns the phase with the given id.
func (c *Config) FindPhase(id string) *Phase {
	for i := range c.Phases {
		if c.Phases[i].ID == id {
			return &c.Phases[i]
		}
	}
	return nil
}

// FindGroup returns the group with the given id within a phase.
func (p *Phase) FindGroup(id string) *Group {
	for i := range p.Groups {
		if p.Groups[i].ID == id {
			return &p.Groups[i]
		}
	}
	return nil
}

// FindCheck returns the check with the given id and its containing group.
func (p *Phase) FindCheck(id string) (*Check, *Group) {
	for gi := range p.Groups {
		g := &p.Groups[gi]
		for ci := range g.Checks {
			if g.Checks[ci].ID == id {
				return &g.Checks[ci], g
			}
		}
	}
	return nil, nil
}

// GenerateDefault returns default config YAML for a tracker id.
func GenerateDefault(trackerID string) string {
	return fmt.Sprintf(defaultTemplate, trackerID)
}

// Default returns the default normalized Config for a tracker.
func Default(trackerID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(trackerID))).Decode(&cfg)
	cfg.Normalize()
	return &cfg
}

const defaultTemplate = `tracker:
  id: %s
  name: Downtime Project
  roll_mode: dc

phases:
  - id: groundwork
    name: Groundwork
    allow_critical: true
    failure_events: true
    failure_table: setbacks
    groups:
      - id: legwork
        name: Legwork
        checks:
          - id: ask-around
            name: Ask around
            skill: persuasion
            dc: 12
          - id: case-the-site
            name: Case the site
            skill: investigation
            dc: 13
            deps:
              - source: ask-around
                kind: check
                type: block
    success_lines:
      - text: "A thread of the plan comes together."
    failure_lines:
      - text: "A day lost to blind alleys."

  - id: execution
    name: Execution
    groups:
      - id: the-work
        name: The Work
        checks:
          - id: finish-the-job
            name: Finish the job
            skill: athletics
            dc: 15
            completes_phase: true

tables:
  setbacks:
    - text: "Someone starts asking questions about you."
      weight: 3
    - text: "An old rival resurfaces."
      weight: 1
`
