// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay runs scripted engine sessions against a fixture graph.
//
// A scenario names a fixture, optional view overrides and a list of steps:
//
//	fixture: people.yaml
//	config:
//	  node_limit: 20
//	steps:
//	  - {op: load_initial, id: alice}
//	  - {op: explore, id: bob}
//	  - {op: settle}
//	  - {op: snapshot, id: after-bob}
//
// The store invariants are checked after every step.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/GraphView/services/view/config"
)

var (
	// ErrUnknownStep is returned for a step whose op is not recognised.
	ErrUnknownStep = errors.New("unknown step")

	// ErrInvalidScenario is returned when a scenario fails validation.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrUnresolved is returned when a step names an id the view does not
	// hold.
	ErrUnresolved = errors.New("id not in view")
)

// Op names a step.
type Op string

const (
	OpLoadInitial   Op = "load_initial"
	OpLoad          Op = "load"
	OpExplore       Op = "explore"
	OpExpand        Op = "expand"
	OpCollapseView  Op = "collapse_view"
	OpDissolve      Op = "dissolve"
	OpCollapse      Op = "collapse"
	OpSetNodeLimit  Op = "set_node_limit"
	OpSetChildLimit Op = "set_child_limit"
	OpRemoveNode    Op = "remove_node"
	OpSettle        Op = "settle"
	OpCleanUp       Op = "cleanup"
	OpSnapshot      Op = "snapshot"
)

var knownOps = map[Op]bool{
	OpLoadInitial: true, OpLoad: true, OpExplore: true, OpExpand: true,
	OpCollapseView: true, OpDissolve: true, OpCollapse: true,
	OpSetNodeLimit: true, OpSetChildLimit: true, OpRemoveNode: true,
	OpSettle: true, OpCleanUp: true, OpSnapshot: true,
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name    string    `json:"name,omitempty" yaml:"name,omitempty"`
	Fixture string    `json:"fixture" yaml:"fixture" validate:"required"`
	Config  Overrides `json:"config,omitempty" yaml:"config,omitempty"`
	Steps   []Step    `json:"steps" yaml:"steps" validate:"required,min=1,dive"`

	// dir resolves a relative Fixture path.
	dir string
}

// Overrides replaces view settings of the base configuration. Zero
// values keep the base.
type Overrides struct {
	NodeLimit    int      `json:"node_limit,omitempty" yaml:"node_limit,omitempty" validate:"gte=0"`
	ChildLimit   int      `json:"child_limit,omitempty" yaml:"child_limit,omitempty" validate:"gte=0"`
	PriorityList []string `json:"priority_list,omitempty" yaml:"priority_list,omitempty" validate:"dive,required"`
	Seed         int64    `json:"seed,omitempty" yaml:"seed,omitempty" validate:"gte=0"`
}

// Step is one scripted operation.
//
// ID names the node or community the step acts on; for expand,
// collapse_view and dissolve it may be any member of the community. For
// snapshot it is the label. IDs feeds collapse. Value feeds the limit
// steps. Reason labels a manual collapse.
type Step struct {
	Op     Op       `json:"op" yaml:"op" validate:"required"`
	ID     string   `json:"id,omitempty" yaml:"id,omitempty"`
	IDs    []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	Value  int      `json:"value,omitempty" yaml:"value,omitempty"`
	Reason string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (s Step) String() string {
	if s.ID != "" {
		return fmt.Sprintf("%s %s", s.Op, s.ID)
	}
	return string(s.Op)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ReadScenario reads and validates a scenario file. A relative fixture
// path is resolved against the scenario's directory.
func ReadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes YAML, falling back to JSON, and validates.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		if jsonErr := json.Unmarshal(data, &sc); jsonErr != nil {
			return nil, fmt.Errorf("parse scenario (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks field tags and that every op is known.
func (sc *Scenario) Validate() error {
	if err := validate.Struct(sc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	for i, st := range sc.Steps {
		if !knownOps[st.Op] {
			return fmt.Errorf("step %d: %w: %q", i, ErrUnknownStep, st.Op)
		}
	}
	return nil
}

// FixturePath returns the fixture location.
func (sc *Scenario) FixturePath() string {
	if filepath.IsAbs(sc.Fixture) || sc.dir == "" {
		return sc.Fixture
	}
	return filepath.Join(sc.dir, sc.Fixture)
}

// Apply returns base with the overrides applied.
func (o Overrides) Apply(base config.Config) config.Config {
	if o.NodeLimit > 0 {
		base.View.NodeLimit = o.NodeLimit
	}
	if o.ChildLimit > 0 {
		base.View.ChildLimit = o.ChildLimit
	}
	if len(o.PriorityList) > 0 {
		base.View.PriorityList = append([]string(nil), o.PriorityList...)
	}
	if o.Seed > 0 {
		base.View.Seed = o.Seed
	}
	return base
}
