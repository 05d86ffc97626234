// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.20
//

// Measurement records and the registry that owns them.

package gridse

import (
	"fmt"
	"math"
	"math/cmplx"

	"golang.org/x/exp/slices"
)

// Kind of measuring device
type Kind int

const (
	Voltmeter Kind = iota // Bus voltage magnitude
	Ammeter               // Branch-end current magnitude
	Wattmeter             // Active power injection or flow
	Varmeter              // Reactive power injection or flow
	Pmu                   // Bus voltage phasor or branch-end current phasor
)

func (k Kind) String() string {
	switch k {
	case Voltmeter:
		return "Voltmeter"
	case Ammeter:
		return "Ammeter"
	case Wattmeter:
		return "Wattmeter"
	case Varmeter:
		return "Varmeter"
	case Pmu:
		return "PMU"
	default:
		return "UNKNOWN!"
	}
}

// Location of a measuring device: a bus, or one end of a branch
type Location int

const (
	AtBus Location = iota
	AtFrom
	AtTo
)

func (l Location) String() string {
	switch l {
	case AtBus:
		return "bus"
	case AtFrom:
		return "from"
	case AtTo:
		return "to"
	default:
		return "UNKNOWN!"
	}
}

// Part selects one of the two co-indexed records of a PMU.
// Scalar devices only have PartValue.
type Part int

const (
	PartValue Part = iota // Scalar value, or PMU magnitude
	PartAngle             // PMU angle
)

func (p Part) String() string {
	if p == PartAngle {
		return "angle"
	}
	return "value"
}

// Meter is one measured quantity
type Meter struct {
	Mean      float64
	Variance  float64
	InService bool
}

// Measurement is a device record. For PMUs, Meter holds the magnitude and Angle the phase angle.
type Measurement struct {
	Label      string
	Kind       Kind
	Location   Location
	Index      int // Bus index (AtBus) or branch index (AtFrom, AtTo)
	Meter
	Angle      Meter // PMU only
	Polar      bool  // PMU only: estimate in polar instead of rectangular coordinates (AC only)
	Correlated bool  // PMU only: keep the rectangular covariance off-diagonal term
}

func (m *Measurement) meter(p Part) *Meter {
	if p == PartAngle {
		return &m.Angle
	}
	return &m.Meter
}

// RegistryOpt holds defaults applied by the templates and by Add
type RegistryOpt struct {
	VoltmeterVariance    float64 // Default variances [pu^2, rad^2]
	AmmeterVariance      float64
	WattmeterVariance    float64
	VarmeterVariance     float64
	PmuMagnitudeVariance float64
	PmuAngleVariance     float64
	InService            bool // Default status
	PmuPolar             bool // Default PMU coordinate system
	PmuCorrelated        bool // Default PMU correlation
}

// NewRegistryOpt creates a new RegistryOpt with default values
func NewRegistryOpt() *RegistryOpt {
	return &RegistryOpt{
		VoltmeterVariance:    VAR_VOLTMETER,
		AmmeterVariance:      VAR_AMMETER,
		WattmeterVariance:    VAR_WATTMETER,
		VarmeterVariance:     VAR_VARMETER,
		PmuMagnitudeVariance: VAR_PMU_MAGNITUDE,
		PmuAngleVariance:     VAR_PMU_ANGLE,
		InService:            true,
		PmuPolar:             false,
		PmuCorrelated:        false,
	}
}

// measurementCache is implemented by the coefficient caches of live estimators.
// The registry calls it right after mutating record i.
type measurementCache interface {
	updateMean(i int)
	updateVariance(i int)
	updateStatus(i int)
	updateCorrelation(i int)
}

// Registry owns the measurement records of one network snapshot.
// Records are never deleted, so their indices are stable.
type Registry struct {
	net     Network
	opt     RegistryOpt
	meas    []*Measurement
	byLabel map[string]int
	count   map[Kind]int
	caches  []measurementCache
}

// NewRegistry creates an empty registry for the network. A nil opt uses NewRegistryOpt().
func NewRegistry(net Network, opt *RegistryOpt) *Registry {
	if opt == nil {
		opt = NewRegistryOpt()
	}
	return &Registry{
		net:     net,
		opt:     *opt,
		byLabel: map[string]int{},
		count:   map[Kind]int{},
	}
}

// Template returns a scalar measurement filled with the registry defaults
func (r *Registry) Template(kind Kind, loc Location, index int, mean float64) Measurement {
	m := Measurement{
		Kind:     kind,
		Location: loc,
		Index:    index,
		Meter:    Meter{Mean: mean, InService: r.opt.InService},
	}
	switch kind {
	case Voltmeter:
		m.Variance = r.opt.VoltmeterVariance
	case Ammeter:
		m.Variance = r.opt.AmmeterVariance
	case Wattmeter:
		m.Variance = r.opt.WattmeterVariance
	case Varmeter:
		m.Variance = r.opt.VarmeterVariance
	case Pmu:
		m.Variance = r.opt.PmuMagnitudeVariance
		m.Angle = Meter{Variance: r.opt.PmuAngleVariance, InService: r.opt.InService}
		m.Polar = r.opt.PmuPolar
		m.Correlated = r.opt.PmuCorrelated
	}
	return m
}

// TemplatePmu returns a PMU measurement filled with the registry defaults
func (r *Registry) TemplatePmu(loc Location, index int, magnitude, angle float64) Measurement {
	m := r.Template(Pmu, loc, index, magnitude)
	m.Angle.Mean = angle
	return m
}

// Add validates a record and appends it. An empty label is replaced by "<Kind> <n>".
// Estimators built before the call do not see the new record.
func (r *Registry) Add(m Measurement) (int, error) {
	if err := r.validate(&m); err != nil {
		return -1, err
	}
	if m.Label == "" {
		for n := r.count[m.Kind] + 1; ; n++ {
			m.Label = fmt.Sprintf("%s %d", m.Kind, n)
			if _, ok := r.byLabel[m.Label]; !ok {
				break
			}
		}
	}
	if _, ok := r.byLabel[m.Label]; ok {
		return -1, fmt.Errorf("%q: %w", m.Label, ErrDuplicateLabel)
	}
	r.count[m.Kind]++
	r.meas = append(r.meas, &m)
	r.byLabel[m.Label] = len(r.meas) - 1
	return len(r.meas) - 1, nil
}

func (r *Registry) validate(m *Measurement) error {
	bad := func(format string, a ...any) error {
		return fmt.Errorf("%q: %s: %w", m.Label, fmt.Sprintf(format, a...), ErrInvalidMeasurement)
	}

	switch m.Kind {
	case Voltmeter:
		if m.Location != AtBus {
			return bad("voltmeter must be located at a bus")
		}
	case Ammeter:
		if m.Location == AtBus {
			return bad("ammeter must be located at a branch end")
		}
	case Wattmeter, Varmeter, Pmu:
	default:
		return bad("unknown kind %d", m.Kind)
	}

	switch m.Location {
	case AtBus:
		if m.Index < 0 || m.Index >= r.net.BusCount() {
			return fmt.Errorf("%q: bus %d: %w", m.Label, m.Index, ErrIndexRange)
		}
	case AtFrom, AtTo:
		if m.Index < 0 || m.Index >= r.net.BranchCount() {
			return fmt.Errorf("%q: branch %d: %w", m.Label, m.Index, ErrIndexRange)
		}
	default:
		return bad("unknown location %d", m.Location)
	}

	if !isFinite(m.Mean) {
		return bad("mean %v", m.Mean)
	}
	if !(m.Variance > 0) || math.IsInf(m.Variance, 0) {
		return bad("variance %v", m.Variance)
	}
	if m.Kind == Pmu {
		if !isFinite(m.Angle.Mean) || !(m.Angle.Variance > 0) || math.IsInf(m.Angle.Variance, 0) {
			return fmt.Errorf("%q: angle mean %v, variance %v: %w", m.Label, m.Angle.Mean, m.Angle.Variance, ErrIncompletePair)
		}
	}
	return nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Len returns the number of records
func (r *Registry) Len() int {
	return len(r.meas)
}

// At returns a copy of record i
func (r *Registry) At(i int) Measurement {
	return *r.meas[i]
}

// Lookup returns the index of a label
func (r *Registry) Lookup(label string) (int, bool) {
	i, ok := r.byLabel[label]
	return i, ok
}

// Measurements returns a copy of every record, in insertion order
func (r *Registry) Measurements() []Measurement {
	ms := make([]Measurement, len(r.meas))
	for i, m := range r.meas {
		ms[i] = *m
	}
	return ms
}

// Network returns the network the registry was built for
func (r *Registry) Network() Network {
	return r.net
}

func (r *Registry) attach(c measurementCache) {
	r.caches = append(r.caches, c)
}

func (r *Registry) detach(c measurementCache) {
	r.caches = slices.DeleteFunc(r.caches, func(x measurementCache) bool { return x == c })
}

func (r *Registry) find(label string, p Part) (int, *Meter, error) {
	i, ok := r.byLabel[label]
	if !ok {
		return -1, nil, fmt.Errorf("%q: %w", label, ErrUnknownLabel)
	}
	m := r.meas[i]
	if p == PartAngle && m.Kind != Pmu {
		return -1, nil, fmt.Errorf("%q: %s has no angle: %w", label, m.Kind, ErrInvalidMeasurement)
	}
	return i, m.meter(p), nil
}

// UpdateMean changes the measured value of one part
func (r *Registry) UpdateMean(label string, p Part, mean float64) error {
	i, mt, err := r.find(label, p)
	if err != nil {
		return err
	}
	if !isFinite(mean) {
		return fmt.Errorf("%q: mean %v: %w", label, mean, ErrInvalidMeasurement)
	}
	mt.Mean = mean
	for _, c := range r.caches {
		c.updateMean(i)
	}
	return nil
}

// UpdateVariance changes the variance of one part
func (r *Registry) UpdateVariance(label string, p Part, variance float64) error {
	i, mt, err := r.find(label, p)
	if err != nil {
		return err
	}
	if !(variance > 0) || math.IsInf(variance, 0) {
		return fmt.Errorf("%q: variance %v: %w", label, variance, ErrInvalidMeasurement)
	}
	mt.Variance = variance
	for _, c := range r.caches {
		c.updateVariance(i)
	}
	return nil
}

// UpdateStatus puts one part in or out of service
func (r *Registry) UpdateStatus(label string, p Part, inService bool) error {
	i, mt, err := r.find(label, p)
	if err != nil {
		return err
	}
	mt.InService = inService
	for _, c := range r.caches {
		c.updateStatus(i)
	}
	return nil
}

// UpdateCorrelation switches the rectangular covariance off-diagonal term of a PMU
func (r *Registry) UpdateCorrelation(label string, correlated bool) error {
	i, ok := r.byLabel[label]
	if !ok {
		return fmt.Errorf("%q: %w", label, ErrUnknownLabel)
	}
	if r.meas[i].Kind != Pmu {
		return fmt.Errorf("%q: %s has no correlation: %w", label, r.meas[i].Kind, ErrInvalidMeasurement)
	}
	r.meas[i].Correlated = correlated
	for _, c := range r.caches {
		c.updateCorrelation(i)
	}
	return nil
}

// DisableOutlier takes the measurement flagged by ResidualTest out of service.
// A rectangular PMU row stands for both halves, so both are disabled.
func (r *Registry) DisableOutlier(b *BadData) error {
	if b == nil || !b.Detected {
		return nil
	}
	if b.Rectangular {
		if err := r.UpdateStatus(b.Label, PartValue, false); err != nil {
			return err
		}
		return r.UpdateStatus(b.Label, PartAngle, false)
	}
	return r.UpdateStatus(b.Label, b.Part, false)
}

// MeasurementValue returns the noiseless value of a measurement at the given AC state.
// For PMUs the magnitude and angle are returned, otherwise angle is 0.
func MeasurementValue(net Network, m *Measurement, s *State) (value, angle float64) {
	v := func(bus int) complex128 { return s.Phasor(bus) }
	switch m.Location {
	case AtBus:
		switch m.Kind {
		case Voltmeter:
			return cmplx.Abs(v(m.Index)), 0
		case Pmu:
			return cmplx.Abs(v(m.Index)), cmplx.Phase(v(m.Index))
		case Wattmeter, Varmeter:
			sp := v(m.Index) * cmplx.Conj(injectionCurrent(net, m.Index, v))
			if m.Kind == Wattmeter {
				return real(sp), 0
			}
			return imag(sp), 0
		}
	default:
		a, b, y1, y2 := branchEnd(net, m.Index, m.Location)
		i := y1*v(a) + y2*v(b)
		switch m.Kind {
		case Ammeter:
			return cmplx.Abs(i), 0
		case Pmu:
			return cmplx.Abs(i), cmplx.Phase(i)
		case Wattmeter:
			return real(v(a) * cmplx.Conj(i)), 0
		case Varmeter:
			return imag(v(a) * cmplx.Conj(i)), 0
		}
	}
	return 0, 0
}
