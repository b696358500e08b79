/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package conflict

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Rules are the booking constraints of one resource.
type Rules struct {
	Buffer      time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
	MinNotice   time.Duration
	MaxAdvance  time.Duration
}

// ruleSpec mirrors Rules in the YAML file. Nil fields inherit.
type ruleSpec struct {
	BufferMinutes  *int `yaml:"buffer_minutes"`
	MinMinutes     *int `yaml:"min_minutes"`
	MaxMinutes     *int `yaml:"max_minutes"`
	NoticeMinutes  *int `yaml:"min_notice_minutes"`
	MaxAdvanceDays *int `yaml:"max_advance_days"`
}

type ruleFile struct {
	Defaults  ruleSpec            `yaml:"defaults"`
	Resources map[string]ruleSpec `yaml:"resources"`
}

func (s ruleSpec) apply(base Rules) Rules {
	if s.BufferMinutes != nil {
		base.Buffer = time.Duration(*s.BufferMinutes) * time.Minute
	}
	if s.MinMinutes != nil {
		base.MinDuration = time.Duration(*s.MinMinutes) * time.Minute
	}
	if s.MaxMinutes != nil {
		base.MaxDuration = time.Duration(*s.MaxMinutes) * time.Minute
	}
	if s.NoticeMinutes != nil {
		base.MinNotice = time.Duration(*s.NoticeMinutes) * time.Minute
	}
	if s.MaxAdvanceDays != nil {
		base.MaxAdvance = time.Duration(*s.MaxAdvanceDays) * 24 * time.Hour
	}
	return base
}

// Validate checks the rule set is internally consistent.
func (r Rules) Validate() error {
	if r.Buffer < 0 || r.MinDuration < 0 || r.MaxDuration < 0 || r.MinNotice < 0 || r.MaxAdvance < 0 {
		return fmt.Errorf("rules must not be negative")
	}
	if r.MaxDuration > 0 && r.MinDuration > r.MaxDuration {
		return fmt.Errorf("min duration %s exceeds max duration %s", r.MinDuration, r.MaxDuration)
	}
	return nil
}

// RuleBook resolves the rules of each resource: per-resource overrides on top of defaults.
type RuleBook struct {
	mu        sync.RWMutex
	defaults  Rules
	overrides map[string]Rules
}

// NewRuleBook creates a rule book with only defaults.
func NewRuleBook(defaults Rules) *RuleBook {
	return &RuleBook{defaults: defaults, overrides: make(map[string]Rules)}
}

// For returns the rules applying to resourceID.
func (b *RuleBook) For(resourceID string) Rules {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.overrides[resourceID]; ok {
		return r
	}
	return b.defaults
}

// Set overrides the rules of a single resource.
func (b *RuleBook) Set(resourceID string, r Rules) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("resource %s: %w", resourceID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[resourceID] = r
	return nil
}

// Resources returns the ids with explicit overrides.
func (b *RuleBook) Resources() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.overrides))
	for id := range b.overrides {
		ids = append(ids, id)
	}
	return ids
}

// ParseRules builds a rule book from YAML. Defaults in the document override base.
func ParseRules(data []byte, base Rules) (*RuleBook, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	defaults := doc.Defaults.apply(base)
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	book := NewRuleBook(defaults)
	for id, spec := range doc.Resources {
		if err := book.Set(id, spec.apply(defaults)); err != nil {
			return nil, err
		}
	}
	return book, nil
}

// LoadRules reads a YAML rules file. An empty path yields base defaults only.
func LoadRules(path string, base Rules) (*RuleBook, error) {
	if path == "" {
		if err := base.Validate(); err != nil {
			return nil, err
		}
		return NewRuleBook(base), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data, base)
}
