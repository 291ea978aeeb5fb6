package matching

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidWeights = errors.New("invalid scoring weights")

const weightTolerance = 1e-6

// Weights sets how much each factor contributes. They must be non-negative
// and sum to one.
type Weights struct {
	Skill      float64 `mapstructure:"skill" json:"skill"`
	Experience float64 `mapstructure:"experience" json:"experience"`
	Education  float64 `mapstructure:"education" json:"education"`
	Salary     float64 `mapstructure:"salary" json:"salary"`
	Locality   float64 `mapstructure:"locality" json:"locality"`
}

func DefaultWeights() Weights {
	return Weights{
		Skill:      0.4,
		Experience: 0.2,
		Education:  0.15,
		Salary:     0.15,
		Locality:   0.1,
	}
}

func (w Weights) Validate() error {
	sum := 0.0
	for _, f := range w.ordered() {
		if f.weight < 0 || math.IsNaN(f.weight) {
			return fmt.Errorf("%w: %s weight %v is negative", ErrInvalidWeights, f.name, f.weight)
		}
		sum += f.weight
	}

	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, expected 1", ErrInvalidWeights, sum)
	}

	return nil
}

type namedWeight struct {
	name   string
	weight float64
}

// ordered lists the weights in the order factors are reported.
func (w Weights) ordered() []namedWeight {
	return []namedWeight{
		{FactorSkill, w.Skill},
		{FactorExperience, w.Experience},
		{FactorEducation, w.Education},
		{FactorSalary, w.Salary},
		{FactorLocality, w.Locality},
	}
}
