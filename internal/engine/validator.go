package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ferreiralabs/settra/model"
)

// Validator runs the business check for one stage. Implementations may
// perform I/O; the engine holds the instance lock for the duration of the
// call, so a validator must only ever touch its own transaction. Returning
// an error (or panicking) is a validator fault: the engine leaves the
// transaction untouched and surfaces a deferred result with backoff.
type Validator interface {
	Validate(ctx context.Context, tx *model.Transaction) (model.ValidationResult, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, tx *model.Transaction) (model.ValidationResult, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, tx *model.Transaction) (model.ValidationResult, error) {
	return f(ctx, tx)
}

// Validators maps stages to their registered validator. Register everything
// before handing the set to the engine; lookups are not synchronized.
type Validators struct {
	byStage map[model.Stage]Validator
}

// NewValidators creates an empty validator set.
func NewValidators() *Validators {
	return &Validators{byStage: make(map[model.Stage]Validator)}
}

// Register binds a validator to a stage, replacing any previous binding.
func (v *Validators) Register(s model.Stage, validator Validator) {
	v.byStage[s] = validator
}

// Lookup returns the validator for a stage, if one is registered.
func (v *Validators) Lookup(s model.Stage) (Validator, bool) {
	validator, ok := v.byStage[s]
	return validator, ok
}

const (
	faultBackoffBase = time.Second
	faultBackoffMax  = 5 * time.Minute
)

// faultBackoff returns the retry delay after n consecutive validator
// faults: exponential from the base, capped at the max.
func faultBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := faultBackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= faultBackoffMax {
			return faultBackoffMax
		}
	}
	return d
}

// runValidator invokes a validator, converting panics into errors so a
// faulty plug-in can never take the engine down or corrupt state.
func runValidator(ctx context.Context, v Validator, tx *model.Transaction) (result model.ValidationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("validator panic: %v", rec)
		}
	}()
	return v.Validate(ctx, tx)
}
