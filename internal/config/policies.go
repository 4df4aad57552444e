package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"spacebook/internal/models"
	"spacebook/internal/pricing"
)

// TierConfig is one row of a cancellation tier table.
type TierConfig struct {
	DaysBeforeBooking int `yaml:"days_before_booking"`
	ChargePercentage  int `yaml:"charge_percentage"`
}

// SpaceConfig describes prices and cancellation terms of a space type.
type SpaceConfig struct {
	Type              string       `yaml:"type"` // slug, "open-space"
	FullDayPrice      int64        `yaml:"full_day_price"`
	HourlyPrice       int64        `yaml:"hourly_price"`
	Capacity          int          `yaml:"capacity"`
	CancellationTiers []TierConfig `yaml:"cancellation_tiers"`
}

// ServiceConfig is an add-on sold with a booking.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	UnitPrice int64  `yaml:"unit_price"`
}

// PoliciesConfig is the root of policies.yaml.
type PoliciesConfig struct {
	Currency       string          `yaml:"currency"`
	DepositPercent int             `yaml:"deposit_percent"`
	Spaces         []SpaceConfig   `yaml:"spaces"`
	Services       []ServiceConfig `yaml:"services"`

	policies map[models.SpaceType]models.CancellationPolicy
	catalog  *pricing.Catalog
}

// LoadPoliciesConfig loads and validates policies.yaml.
func LoadPoliciesConfig(path string) (*PoliciesConfig, error) {
	if path == "" {
		path = "configs/policies.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies config: %w", err)
	}
	return ParsePoliciesConfig(data)
}

// ParsePoliciesConfig decodes and validates policies YAML.
func ParsePoliciesConfig(data []byte) (*PoliciesConfig, error) {
	var cfg PoliciesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policies config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate policies config: %w", err)
	}
	cfg.build()
	return &cfg, nil
}

func (c *PoliciesConfig) applyDefaults() {
	c.Currency = strings.ToUpper(c.Currency)
	if c.Currency == "" {
		c.Currency = "THB"
	}
}

// Validate checks the configuration for errors.
func (c *PoliciesConfig) Validate() error {
	if len(c.Spaces) == 0 {
		return fmt.Errorf("no spaces defined")
	}
	if c.DepositPercent < 0 || c.DepositPercent > 100 {
		return fmt.Errorf("deposit_percent must be 0-100, got %d", c.DepositPercent)
	}

	seen := make(map[models.SpaceType]bool)
	for i, sp := range c.Spaces {
		st, ok := models.ParseSpaceType(sp.Type)
		if !ok {
			return fmt.Errorf("space[%d]: unknown type '%s'", i, sp.Type)
		}
		if seen[st] {
			return fmt.Errorf("space[%d]: duplicate type '%s'", i, sp.Type)
		}
		seen[st] = true

		if sp.FullDayPrice < 0 || sp.HourlyPrice < 0 {
			return fmt.Errorf("space[%d]: prices cannot be negative", i)
		}
		if sp.Capacity < 0 {
			return fmt.Errorf("space[%d]: capacity cannot be negative", i)
		}
		if err := toPolicy(st, sp.CancellationTiers).Validate(); err != nil {
			return fmt.Errorf("space[%d]: %w", i, err)
		}
	}

	names := make(map[string]bool)
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service[%d]: name is required", i)
		}
		if names[svc.Name] {
			return fmt.Errorf("service[%d]: duplicate name '%s'", i, svc.Name)
		}
		names[svc.Name] = true
		if svc.UnitPrice < 0 {
			return fmt.Errorf("service[%d]: unit_price cannot be negative", i)
		}
	}
	return nil
}

func toPolicy(st models.SpaceType, tiers []TierConfig) models.CancellationPolicy {
	p := models.CancellationPolicy{SpaceType: st, Tiers: make([]models.Tier, 0, len(tiers))}
	for _, t := range tiers {
		p.Tiers = append(p.Tiers, models.Tier{DaysBeforeBooking: t.DaysBeforeBooking, ChargePercentage: t.ChargePercentage})
	}
	return p
}

func (c *PoliciesConfig) build() {
	c.policies = make(map[models.SpaceType]models.CancellationPolicy, len(c.Spaces))
	c.catalog = &pricing.Catalog{
		Currency:       c.Currency,
		DepositPercent: c.DepositPercent,
		Spaces:         make(map[models.SpaceType]pricing.Rates, len(c.Spaces)),
		Services:       make(map[string]int64, len(c.Services)),
	}
	for _, sp := range c.Spaces {
		st, _ := models.ParseSpaceType(sp.Type)
		p := toPolicy(st, sp.CancellationTiers)
		p.Tiers = p.SortedTiers()
		c.policies[st] = p
		c.catalog.Spaces[st] = pricing.Rates{FullDay: sp.FullDayPrice, Hourly: sp.HourlyPrice, Capacity: sp.Capacity}
	}
	for _, svc := range c.Services {
		c.catalog.Services[svc.Name] = svc.UnitPrice
	}
}

// UnknownPolicyError is returned for a space type without configured terms.
type UnknownPolicyError struct{ SpaceType models.SpaceType }

func (e UnknownPolicyError) Error() string {
	return fmt.Sprintf("no cancellation policy for %s", e.SpaceType)
}

// PolicyRegistry holds the current policies and swaps them atomically on reload.
type PolicyRegistry struct {
	current  atomic.Pointer[PoliciesConfig]
	onChange []func(*PoliciesConfig)
}

func NewPolicyRegistry(cfg *PoliciesConfig) *PolicyRegistry {
	r := &PolicyRegistry{}
	r.current.Store(cfg)
	return r
}

// OnChange registers fn to run after every Replace.
func (r *PolicyRegistry) OnChange(fn func(*PoliciesConfig)) {
	r.onChange = append(r.onChange, fn)
}

// Replace installs a freshly loaded configuration.
func (r *PolicyRegistry) Replace(cfg *PoliciesConfig) {
	r.current.Store(cfg)
	for _, fn := range r.onChange {
		fn(cfg)
	}
}

func (r *PolicyRegistry) Current() *PoliciesConfig {
	return r.current.Load()
}

// Policy returns the tier table for a space type.
func (r *PolicyRegistry) Policy(st models.SpaceType) (models.CancellationPolicy, error) {
	p, ok := r.Current().policies[st]
	if !ok {
		return models.CancellationPolicy{}, UnknownPolicyError{SpaceType: st}
	}
	return p, nil
}

// Catalog returns the current price list.
func (r *PolicyRegistry) Catalog() *pricing.Catalog {
	return r.Current().catalog
}
