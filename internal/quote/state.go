// Package quote holds the in-progress quote of a session: its state and
// reducer, step validation, debounced price calculation and draft persistence.
package quote

import (
	"errors"
	"reflect"
	"slices"
	"sync"

	"github.com/Simplici0/epackage/internal/pricing"
)

// MaxPostProcessingOptions is the number of post-processing options a quote may carry.
const MaxPostProcessingOptions = 5

// ErrTooManyOptions is returned when adding an option beyond MaxPostProcessingOptions.
var ErrTooManyOptions = errors.New("quote: too many post-processing options")

// Step identifies a wizard step.
type Step string

const (
	StepSpecs          Step = "specs"
	StepQuantity       Step = "quantity"
	StepPostProcessing Step = "post-processing"
	StepDelivery       Step = "delivery"
)

// Steps lists the wizard steps in order.
var Steps = []Step{StepSpecs, StepQuantity, StepPostProcessing, StepDelivery}

// thicknessRequired lists the materials sold in several gauges.
var thicknessRequired = map[string]bool{
	"pet_al":    true,
	"pet_vmpet": true,
	"pet_ldpe":  true,
	"pet_ny_al": true,
}

// State is the quote being configured.
type State struct {
	BagTypeID          string  `json:"bagTypeId"`
	MaterialID         string  `json:"materialId"`
	Width              float64 `json:"width"`
	Height             float64 `json:"height"`
	Depth              float64 `json:"depth"`
	ThicknessSelection string  `json:"thicknessSelection"`

	Quantity       int    `json:"quantity"`
	Quantities     []int  `json:"quantities"`
	IsUVPrinting   bool   `json:"isUVPrinting"`
	PrintingType   string `json:"printingType"`
	PrintingColors int    `json:"printingColors"`
	DoubleSided    bool   `json:"doubleSided"`

	PostProcessingOptions    []string `json:"postProcessingOptions"`
	PostProcessingMultiplier float64  `json:"postProcessingMultiplier"`

	DeliveryLocation string `json:"deliveryLocation"`
	Urgency          string `json:"urgency"`
}

// DefaultState is the state of a new quote.
func DefaultState() State {
	return State{
		BagTypeID:                "flat_3_side",
		MaterialID:               "pet_al",
		Width:                    200,
		Height:                   300,
		ThicknessSelection:       "medium",
		Quantity:                 500,
		Quantities:               []int{500, 1000, 2000, 5000, 10000},
		PrintingType:             pricing.PrintingDigital,
		PrintingColors:           1,
		PostProcessingOptions:    []string{},
		PostProcessingMultiplier: 1,
		DeliveryLocation:         pricing.DeliveryDomestic,
		Urgency:                  pricing.UrgencyStandard,
	}
}

// Specification returns the pricing input of the state.
func (s State) Specification() pricing.Specification {
	return pricing.Specification{
		BagTypeID:             s.BagTypeID,
		MaterialID:            s.MaterialID,
		Width:                 s.Width,
		Height:                s.Height,
		Depth:                 s.Depth,
		ThicknessSelection:    s.ThicknessSelection,
		IsUVPrinting:          s.IsUVPrinting,
		PrintingType:          s.PrintingType,
		PrintingColors:        s.PrintingColors,
		DoubleSided:           s.DoubleSided,
		PostProcessingOptions: slices.Clone(s.PostProcessingOptions),
		DeliveryLocation:      s.DeliveryLocation,
		Urgency:               s.Urgency,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Quantities = slices.Clone(s.Quantities)
	s.PostProcessingOptions = slices.Clone(s.PostProcessingOptions)
	return s
}

// Equal reports whether two states hold the same values.
func (s State) Equal(o State) bool {
	a, b := s, o
	a.Quantities, b.Quantities = nil, nil
	a.PostProcessingOptions, b.PostProcessingOptions = nil, nil
	return reflect.DeepEqual(a, b) &&
		slices.Equal(s.Quantities, o.Quantities) &&
		slices.Equal(s.PostProcessingOptions, o.PostProcessingOptions)
}

// StepComplete reports whether the wizard may leave step.
func StepComplete(s State, step Step) bool {
	switch step {
	case StepSpecs:
		if s.BagTypeID == "" || s.MaterialID == "" || s.Width <= 0 || s.Height <= 0 {
			return false
		}
		return !thicknessRequired[s.MaterialID] || s.ThicknessSelection != ""
	case StepQuantity:
		return s.Quantity >= pricing.MinOrderQuantity
	case StepPostProcessing:
		return true
	case StepDelivery:
		return s.DeliveryLocation != "" && s.Urgency != ""
	default:
		return false
	}
}

// Action transforms a State.
type Action interface {
	apply(s State) (State, error)
}

// Reduce applies a to s without modifying s.
func Reduce(s State, a Action) (State, error) {
	return a.apply(s.Clone())
}

// SetBasicSpecs updates the given shape and material fields.
type SetBasicSpecs struct {
	BagTypeID          *string  `json:"bagTypeId,omitempty"`
	MaterialID         *string  `json:"materialId,omitempty"`
	Width              *float64 `json:"width,omitempty"`
	Height             *float64 `json:"height,omitempty"`
	Depth              *float64 `json:"depth,omitempty"`
	ThicknessSelection *string  `json:"thicknessSelection,omitempty"`
}

func (a SetBasicSpecs) apply(s State) (State, error) {
	set(&s.BagTypeID, a.BagTypeID)
	set(&s.MaterialID, a.MaterialID)
	set(&s.Width, a.Width)
	set(&s.Height, a.Height)
	set(&s.Depth, a.Depth)
	set(&s.ThicknessSelection, a.ThicknessSelection)
	return s, nil
}

// SetQuantityOptions updates the given quantity and printing fields.
type SetQuantityOptions struct {
	Quantity       *int    `json:"quantity,omitempty"`
	IsUVPrinting   *bool   `json:"isUVPrinting,omitempty"`
	PrintingType   *string `json:"printingType,omitempty"`
	PrintingColors *int    `json:"printingColors,omitempty"`
	DoubleSided    *bool   `json:"doubleSided,omitempty"`
}

func (a SetQuantityOptions) apply(s State) (State, error) {
	set(&s.Quantity, a.Quantity)
	set(&s.IsUVPrinting, a.IsUVPrinting)
	set(&s.PrintingType, a.PrintingType)
	set(&s.PrintingColors, a.PrintingColors)
	set(&s.DoubleSided, a.DoubleSided)
	return s, nil
}

// AddQuantity adds a comparison quantity, keeping the list sorted and unique.
type AddQuantity struct {
	Quantity int `json:"quantity"`
}

func (a AddQuantity) apply(s State) (State, error) {
	if a.Quantity <= 0 || slices.Contains(s.Quantities, a.Quantity) {
		return s, nil
	}
	s.Quantities = append(s.Quantities, a.Quantity)
	slices.Sort(s.Quantities)
	return s, nil
}

// RemoveQuantity removes a comparison quantity. Removing the selected quantity
// selects the first remaining one.
type RemoveQuantity struct {
	Quantity int `json:"quantity"`
}

func (a RemoveQuantity) apply(s State) (State, error) {
	i := slices.Index(s.Quantities, a.Quantity)
	if i < 0 {
		return s, nil
	}
	s.Quantities = slices.Delete(s.Quantities, i, i+1)
	if s.Quantity == a.Quantity {
		s.Quantity = 0
		if len(s.Quantities) > 0 {
			s.Quantity = s.Quantities[0]
		}
	}
	return s, nil
}

// SetPostProcessing replaces the selected post-processing options.
type SetPostProcessing struct {
	Options []string `json:"options"`
}

func (a SetPostProcessing) apply(s State) (State, error) {
	if len(a.Options) > MaxPostProcessingOptions {
		return s, ErrTooManyOptions
	}
	s.PostProcessingOptions = make([]string, 0, len(a.Options))
	for _, id := range a.Options {
		if id != "" && !slices.Contains(s.PostProcessingOptions, id) {
			s.PostProcessingOptions = append(s.PostProcessingOptions, id)
		}
	}
	return withMultiplier(s), nil
}

// AddPostProcessingOption selects one more option.
type AddPostProcessingOption struct {
	ID string `json:"id"`
}

func (a AddPostProcessingOption) apply(s State) (State, error) {
	if a.ID == "" || slices.Contains(s.PostProcessingOptions, a.ID) {
		return s, nil
	}
	if len(s.PostProcessingOptions) >= MaxPostProcessingOptions {
		return s, ErrTooManyOptions
	}
	s.PostProcessingOptions = append(s.PostProcessingOptions, a.ID)
	return withMultiplier(s), nil
}

// RemovePostProcessingOption deselects an option.
type RemovePostProcessingOption struct {
	ID string `json:"id"`
}

func (a RemovePostProcessingOption) apply(s State) (State, error) {
	s.PostProcessingOptions = slices.DeleteFunc(s.PostProcessingOptions, func(id string) bool { return id == a.ID })
	return withMultiplier(s), nil
}

// ReplacePostProcessingOption swaps one option for another, as when switching
// between the choices of an exclusive group.
type ReplacePostProcessingOption struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func (a ReplacePostProcessingOption) apply(s State) (State, error) {
	i := slices.Index(s.PostProcessingOptions, a.Old)
	switch {
	case i < 0:
		return AddPostProcessingOption{ID: a.New}.apply(s)
	case slices.Contains(s.PostProcessingOptions, a.New):
		s.PostProcessingOptions = slices.Delete(s.PostProcessingOptions, i, i+1)
	default:
		s.PostProcessingOptions[i] = a.New
	}
	return withMultiplier(s), nil
}

// SetDelivery updates the given delivery fields.
type SetDelivery struct {
	DeliveryLocation *string `json:"deliveryLocation,omitempty"`
	Urgency          *string `json:"urgency,omitempty"`
}

func (a SetDelivery) apply(s State) (State, error) {
	set(&s.DeliveryLocation, a.DeliveryLocation)
	set(&s.Urgency, a.Urgency)
	return s, nil
}

// Reset restores DefaultState.
type Reset struct{}

func (Reset) apply(State) (State, error) {
	return DefaultState(), nil
}

// Load replaces the state, as when restoring a draft.
type Load struct {
	State State `json:"state"`
}

func (a Load) apply(State) (State, error) {
	return withMultiplier(a.State.Clone()), nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func withMultiplier(s State) State {
	if s.PostProcessingOptions == nil {
		s.PostProcessingOptions = []string{}
	}
	s.PostProcessingMultiplier = pricing.ProcessingMultiplier(s.PostProcessingOptions).InexactFloat64()
	return s
}

// Store holds a session's quote state and notifies subscribers of changes.
// Subscribers see states in the order they were dispatched and must not
// dispatch to the same Store.
type Store struct {
	// dispatchMu serializes Dispatch calls, notifications included.
	dispatchMu  sync.Mutex
	mu          sync.RWMutex
	state       State
	subscribers []func(State)
}

// NewStore returns a Store starting at initial.
func NewStore(initial State) *Store {
	return &Store{state: initial.Clone()}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn to receive every new state.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Dispatch applies a and notifies subscribers when the state changed.
func (s *Store) Dispatch(a Action) (State, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next, err := Reduce(s.state, a)
	if err != nil {
		current := s.state.Clone()
		s.mu.Unlock()
		return current, err
	}
	changed := !next.Equal(s.state)
	s.state = next
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	if changed {
		for _, fn := range subscribers {
			fn(next.Clone())
		}
	}
	return next.Clone(), nil
}
