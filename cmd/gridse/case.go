// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.19
//

package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	m "github.com/mkhts/gridse"
)

// Case file layout. Buses and branches are referred to by label.
// Angles are in degrees, angle variances in rad^2.
type caseFile struct {
	Buses        []busSpec  `yaml:"buses"`
	Branches     []lineSpec `yaml:"branches"`
	Measurements []measSpec `yaml:"measurements"`
	Pseudo       []measSpec `yaml:"pseudo"`
}

type busSpec struct {
	Label     string  `yaml:"label"`
	Slack     bool    `yaml:"slack"`
	ShuntG    float64 `yaml:"g"`
	ShuntB    float64 `yaml:"b"`
	Magnitude float64 `yaml:"magnitude"`
	Angle     float64 `yaml:"angle"`
}

type lineSpec struct {
	Label     string  `yaml:"label"`
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	R         float64 `yaml:"r"`
	X         float64 `yaml:"x"`
	B         float64 `yaml:"b"`
	Tap       float64 `yaml:"tap"`
	Shift     float64 `yaml:"shift"`
	InService *bool   `yaml:"in_service"`
}

// Exactly one of Bus, From and To locates the device
type measSpec struct {
	Label         string   `yaml:"label"`
	Kind          string   `yaml:"kind"`
	Bus           string   `yaml:"bus"`
	From          string   `yaml:"from"`
	To            string   `yaml:"to"`
	Mean          float64  `yaml:"mean"`
	Variance      float64  `yaml:"variance"`
	Angle         *float64 `yaml:"angle"`
	AngleVariance float64  `yaml:"angle_variance"`
	InService     *bool    `yaml:"in_service"`
	Polar         bool     `yaml:"polar"`
	Correlated    bool     `yaml:"correlated"`
}

// gridCase is a loaded case
type gridCase struct {
	grid   *m.Grid
	reg    *m.Registry
	pool   []m.Measurement
	busIdx map[string]int
	brIdx  map[string]int
}

func loadCase(fn string) (*gridCase, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	var cf caseFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse case file: %w", err)
	}
	return buildCase(&cf)
}

func buildCase(cf *caseFile) (*gridCase, error) {
	gc := &gridCase{busIdx: map[string]int{}, brIdx: map[string]int{}}

	buses := make([]m.Bus, len(cf.Buses))
	for i, b := range cf.Buses {
		if _, ok := gc.busIdx[b.Label]; ok || b.Label == "" {
			return nil, fmt.Errorf("bus %d: empty or duplicate label %q", i, b.Label)
		}
		gc.busIdx[b.Label] = i
		buses[i] = m.Bus{
			Label:     b.Label,
			Slack:     b.Slack,
			ShuntG:    b.ShuntG,
			ShuntB:    b.ShuntB,
			Magnitude: b.Magnitude,
			Angle:     m.ToRad(b.Angle),
		}
	}

	branches := make([]m.Branch, len(cf.Branches))
	for k, l := range cf.Branches {
		from, ok1 := gc.busIdx[l.From]
		to, ok2 := gc.busIdx[l.To]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("branch %q: unknown bus %q or %q", l.Label, l.From, l.To)
		}
		if l.Label != "" {
			gc.brIdx[l.Label] = k
		}
		branches[k] = m.Branch{
			Label:     l.Label,
			From:      from,
			To:        to,
			R:         l.R,
			X:         l.X,
			B:         l.B,
			Tap:       l.Tap,
			Shift:     m.ToRad(l.Shift),
			InService: l.InService == nil || *l.InService,
		}
	}

	grid, err := m.NewGrid(buses, branches)
	if err != nil {
		return nil, fmt.Errorf("NewGrid() failed: %w", err)
	}
	gc.grid = grid
	gc.reg = m.NewRegistry(grid, nil)

	for _, ms := range cf.Measurements {
		meas, err := gc.measurement(ms)
		if err != nil {
			return nil, err
		}
		if _, err := gc.reg.Add(meas); err != nil {
			return nil, fmt.Errorf("Add() failed: %w", err)
		}
	}
	for _, ms := range cf.Pseudo {
		meas, err := gc.measurement(ms)
		if err != nil {
			return nil, err
		}
		if ms.Variance == 0 {
			meas.Variance = m.VAR_PSEUDO
		}
		gc.pool = append(gc.pool, meas)
	}
	return gc, nil
}

func (gc *gridCase) measurement(ms measSpec) (m.Measurement, error) {
	var kind m.Kind
	switch strings.ToLower(ms.Kind) {
	case "voltmeter":
		kind = m.Voltmeter
	case "ammeter":
		kind = m.Ammeter
	case "wattmeter":
		kind = m.Wattmeter
	case "varmeter":
		kind = m.Varmeter
	case "pmu":
		kind = m.Pmu
	default:
		return m.Measurement{}, fmt.Errorf("measurement %q: unknown kind %q", ms.Label, ms.Kind)
	}

	var loc m.Location
	var index int
	var ok bool
	switch {
	case ms.Bus != "":
		loc = m.AtBus
		index, ok = gc.busIdx[ms.Bus]
	case ms.From != "":
		loc = m.AtFrom
		index, ok = gc.brIdx[ms.From]
	case ms.To != "":
		loc = m.AtTo
		index, ok = gc.brIdx[ms.To]
	}
	if !ok {
		return m.Measurement{}, fmt.Errorf("measurement %q: unknown or missing location", ms.Label)
	}

	meas := gc.reg.Template(kind, loc, index, ms.Mean)
	meas.Label = ms.Label
	if ms.Variance != 0 {
		meas.Variance = ms.Variance
	}
	if ms.InService != nil {
		meas.InService = *ms.InService
		meas.Angle.InService = *ms.InService
	}
	if kind == m.Pmu {
		if ms.Angle != nil {
			meas.Angle.Mean = m.ToRad(*ms.Angle)
		}
		if ms.AngleVariance != 0 {
			meas.Angle.Variance = ms.AngleVariance
		}
		meas.Polar = ms.Polar
		meas.Correlated = ms.Correlated
	}
	return meas, nil
}
