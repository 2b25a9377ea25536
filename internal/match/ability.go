package match

import (
	"encoding/json"
	"fmt"
)

// Effect is one of Boost, Reduction or Multiplier. The set is closed.
type Effect interface {
	Class() EffectClass
	sealed()
}

// Boost adds Amount to the affected card's value.
type Boost struct{ Amount float64 }

// Reduction subtracts Amount from the affected card's value.
type Reduction struct{ Amount float64 }

// Multiplier scales the affected card's value after all additive effects.
type Multiplier struct{ Factor float64 }

func (Boost) sealed()      {}
func (Reduction) sealed()  {}
func (Multiplier) sealed() {}

// EffectClass is the display class of an effect.
type EffectClass string

const (
	EffectBuff   EffectClass = "buff"
	EffectDebuff EffectClass = "debuff"
)

func (Boost) Class() EffectClass     { return EffectBuff }
func (Reduction) Class() EffectClass { return EffectDebuff }

func (m Multiplier) Class() EffectClass {
	if m.Factor < 1 {
		return EffectDebuff
	}
	return EffectBuff
}

// Ability is a card's effect and the offsets it reaches.
type Ability struct {
	Name   string
	Effect Effect
	Range  []Offset
}

const (
	effectTypeBoost      = "scoreBoost"
	effectTypeReduction  = "scoreReduction"
	effectTypeMultiplier = "multiplier"
)

type abilityJSON struct {
	Name       string   `json:"name,omitempty"`
	EffectType string   `json:"effectType"`
	Value      float64  `json:"value"`
	Range      []Offset `json:"range,omitempty"`
}

func (a Ability) MarshalJSON() ([]byte, error) {
	out := abilityJSON{Name: a.Name, Range: a.Range}
	switch e := a.Effect.(type) {
	case Boost:
		out.EffectType, out.Value = effectTypeBoost, e.Amount
	case Reduction:
		out.EffectType, out.Value = effectTypeReduction, e.Amount
	case Multiplier:
		out.EffectType, out.Value = effectTypeMultiplier, e.Factor
	default:
		return nil, fmt.Errorf("ability %q: unknown effect %T", a.Name, a.Effect)
	}
	return json.Marshal(out)
}

func (a *Ability) UnmarshalJSON(b []byte) error {
	var in abilityJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	eff, err := ParseEffect(in.EffectType, in.Value)
	if err != nil {
		return err
	}
	*a = Ability{Name: in.Name, Effect: eff, Range: in.Range}
	return nil
}

// ParseEffect builds an Effect from its catalog name and magnitude.
// Reductions are stored as a positive amount whatever the sign in the source data.
func ParseEffect(effectType string, value float64) (Effect, error) {
	switch effectType {
	case effectTypeBoost:
		return Boost{Amount: value}, nil
	case effectTypeReduction:
		if value < 0 {
			value = -value
		}
		return Reduction{Amount: value}, nil
	case effectTypeMultiplier:
		return Multiplier{Factor: value}, nil
	default:
		return nil, fmt.Errorf("unknown effect type %q", effectType)
	}
}

// applyEffects folds effects into base. Additive effects go first, then multipliers,
// so the outcome does not depend on board scan order. The result is never negative.
func applyEffects(base float64, effects []Effect) float64 {
	v := base
	for _, e := range effects {
		switch e := e.(type) {
		case Boost:
			v += e.Amount
		case Reduction:
			v -= e.Amount
		case Multiplier:
		default:
			panic(fmt.Sprintf("match: unhandled effect %T", e))
		}
	}
	for _, e := range effects {
		if m, ok := e.(Multiplier); ok {
			v *= m.Factor
		}
	}
	if v < 0 {
		return 0
	}
	return v
}
