// Package schedule evaluates the learning-rate schedules a training config can
// select, so a config can be previewed before it is handed to the framework.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

var (
	// ErrUnknownScheduler is returned for scheduler names New does not support.
	ErrUnknownScheduler = errors.New("unknown scheduler")
	// ErrInvalidParams is returned when the schedule parameters are inconsistent.
	ErrInvalidParams = errors.New("invalid schedule parameters")
)

// MaxEpochs bounds the run length, and so the number of preview points.
const MaxEpochs = 100_000

// Params are the schedule-related options of a training config.
type Params struct {
	Name          string
	LR            float64
	MinLR         float64
	WarmupEpochs  int
	WarmupFactor  float64
	DecayEpochs   int
	DecayRate     float64
	EpochSize     int
	StepsPerEpoch int
}

// ParamsFromConfig extracts the schedule parameters from cfg.
func ParamsFromConfig(cfg hparams.TrainConfig, stepsPerEpoch int) Params {
	return Params{
		Name:          cfg.Scheduler,
		LR:            cfg.LR,
		MinLR:         cfg.MinLR,
		WarmupEpochs:  cfg.WarmupEpochs,
		WarmupFactor:  cfg.WarmupFactor,
		DecayEpochs:   cfg.DecayEpochs,
		DecayRate:     cfg.DecayRate,
		EpochSize:     cfg.EpochSize,
		StepsPerEpoch: stepsPerEpoch,
	}
}

// Schedule maps a global optimizer step to a learning rate.
type Schedule struct {
	params Params
	decay  func(t int) float64
}

// Point is one sample of a schedule.
type Point struct {
	Epoch int     `json:"epoch"`
	Step  int     `json:"step"`
	LR    float64 `json:"lr"`
}

// New builds the schedule described by p. Every schedule starts with a linear
// warmup of p.WarmupEpochs epochs from p.LR*p.WarmupFactor to p.LR.
func New(p Params) (*Schedule, error) {
	if p.StepsPerEpoch <= 0 {
		return nil, fmt.Errorf("%w: steps per epoch must be positive", ErrInvalidParams)
	}
	if p.EpochSize <= 0 {
		return nil, fmt.Errorf("%w: epoch_size must be positive", ErrInvalidParams)
	}
	if p.LR <= 0 || p.MinLR < 0 || p.MinLR > p.LR {
		return nil, fmt.Errorf("%w: need 0 <= min_lr <= lr and lr > 0", ErrInvalidParams)
	}
	if p.WarmupEpochs < 0 || p.DecayEpochs < 0 {
		return nil, fmt.Errorf("%w: epoch counts must be non-negative", ErrInvalidParams)
	}
	if p.EpochSize > MaxEpochs {
		return nil, fmt.Errorf("%w: epoch_size %d exceeds %d", ErrInvalidParams, p.EpochSize, MaxEpochs)
	}
	for _, epochs := range []int{p.EpochSize, p.WarmupEpochs, p.DecayEpochs} {
		if epochs > math.MaxInt/p.StepsPerEpoch {
			return nil, fmt.Errorf("%w: %d epochs of %d steps overflow the step counter",
				ErrInvalidParams, epochs, p.StepsPerEpoch)
		}
	}

	s := &Schedule{params: p}
	decaySteps := p.DecayEpochs * p.StepsPerEpoch

	switch strings.ToLower(p.Name) {
	case "constant":
		s.decay = func(int) float64 { return p.LR }
	case "warmup_cosine_decay":
		s.decay = func(t int) float64 {
			if decaySteps == 0 || t >= decaySteps {
				return p.MinLR
			}
			return cosine(p.LR, p.MinLR, float64(t)/float64(decaySteps))
		}
	case "cosine_decay":
		// restarts every decay_epochs
		s.decay = func(t int) float64 {
			if decaySteps == 0 {
				return p.LR
			}
			return cosine(p.LR, p.MinLR, float64(t%decaySteps)/float64(decaySteps))
		}
	case "exponential_decay":
		if p.DecayRate <= 0 || p.DecayRate > 1 {
			return nil, fmt.Errorf("%w: decay_rate must be in (0, 1]", ErrInvalidParams)
		}
		s.decay = func(t int) float64 {
			epochs := float64(t) / float64(p.StepsPerEpoch)
			return math.Max(p.MinLR, p.LR*math.Pow(p.DecayRate, epochs))
		}
	case "step_decay":
		if p.DecayEpochs == 0 {
			return nil, fmt.Errorf("%w: step_decay needs decay_epochs > 0", ErrInvalidParams)
		}
		if p.DecayRate <= 0 || p.DecayRate > 1 {
			return nil, fmt.Errorf("%w: decay_rate must be in (0, 1]", ErrInvalidParams)
		}
		s.decay = func(t int) float64 {
			drops := t / decaySteps
			return math.Max(p.MinLR, p.LR*math.Pow(p.DecayRate, float64(drops)))
		}
	case "polynomial_decay":
		s.decay = func(t int) float64 {
			if decaySteps == 0 || t >= decaySteps {
				return p.MinLR
			}
			return p.MinLR + (p.LR-p.MinLR)*(1-float64(t)/float64(decaySteps))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheduler, p.Name)
	}

	return s, nil
}

// FromConfig builds the schedule selected by cfg.
func FromConfig(cfg hparams.TrainConfig, stepsPerEpoch int) (*Schedule, error) {
	return New(ParamsFromConfig(cfg, stepsPerEpoch))
}

// Params returns the parameters the schedule was built from.
func (s *Schedule) Params() Params {
	return s.params
}

// TotalSteps is the number of optimizer steps in the whole run.
func (s *Schedule) TotalSteps() int {
	return s.params.EpochSize * s.params.StepsPerEpoch
}

// At returns the learning rate for the given global step.
func (s *Schedule) At(step int) float64 {
	if step < 0 {
		step = 0
	}
	warmupSteps := s.params.WarmupEpochs * s.params.StepsPerEpoch
	if step < warmupSteps {
		start := s.params.LR * s.params.WarmupFactor
		return start + (s.params.LR-start)*float64(step)/float64(warmupSteps)
	}
	return s.decay(step - warmupSteps)
}

// Preview samples the first step of every epoch of the run.
func (s *Schedule) Preview() []Point {
	points := make([]Point, s.params.EpochSize)
	for epoch := range points {
		step := epoch * s.params.StepsPerEpoch
		points[epoch] = Point{Epoch: epoch + 1, Step: step, LR: s.At(step)}
	}
	return points
}

func cosine(hi, lo, progress float64) float64 {
	return lo + 0.5*(hi-lo)*(1+math.Cos(math.Pi*progress))
}
