package orchestrator

import (
	"time"

	"github.com/zjrosen/deepwork/internal/validation"
)

// EntityType parameterizes an Orchestrator for one category of task. One
// Orchestrator type serves every category; only the descriptor differs.
type EntityType struct {
	Tag       string // name used in logs, errors and spans
	Namespace string // cache partition

	MinFocusIntensity        int
	MaxConcurrentSessions    int
	MaxDependencies          int
	ValidateDependencies     bool
	AllowDirectCompletion    bool // pending/paused -> completed without in-progress
	ProtectionFocusThreshold int

	OperationTimeout     time.Duration // bound on each store call
	MaxRetryAttempts     int           // total tries per store call; 1 disables retry
	RetryInitialInterval time.Duration
}

// DeepWork returns the descriptor for deep-work tasks.
func DeepWork() EntityType {
	return EntityType{
		Tag:                      "deep-work",
		Namespace:                "deep-work",
		MinFocusIntensity:        3,
		MaxConcurrentSessions:    3,
		MaxDependencies:          5,
		ValidateDependencies:     true,
		AllowDirectCompletion:    true,
		ProtectionFocusThreshold: 3,
		OperationTimeout:         10 * time.Second,
		MaxRetryAttempts:         3,
		RetryInitialInterval:     100 * time.Millisecond,
	}
}

// withDefaults fills unset numeric fields from DeepWork. Boolean fields are
// taken as given.
func (e EntityType) withDefaults() EntityType {
	def := DeepWork()
	if e.Tag == "" {
		e.Tag = def.Tag
	}
	if e.Namespace == "" {
		e.Namespace = e.Tag
	}
	if e.MinFocusIntensity <= 0 {
		e.MinFocusIntensity = 1
	}
	if e.MaxDependencies <= 0 {
		e.MaxDependencies = def.MaxDependencies
	}
	if e.ProtectionFocusThreshold <= 0 {
		e.ProtectionFocusThreshold = def.ProtectionFocusThreshold
	}
	if e.OperationTimeout <= 0 {
		e.OperationTimeout = def.OperationTimeout
	}
	if e.MaxRetryAttempts <= 0 {
		e.MaxRetryAttempts = 1
	}
	if e.RetryInitialInterval <= 0 {
		e.RetryInitialInterval = def.RetryInitialInterval
	}
	return e
}

// LoadBudget is the longest a store call may take counting every retry and
// the backoff waits between them.
func (e EntityType) LoadBudget() time.Duration {
	if e.MaxRetryAttempts <= 0 {
		return e.OperationTimeout
	}
	waits := time.Duration(e.MaxRetryAttempts-1) * 15 * e.RetryInitialInterval
	return time.Duration(e.MaxRetryAttempts)*e.OperationTimeout + waits
}

// Rules returns the validator bounds for this entity type.
func (e EntityType) Rules() validation.Rules {
	r := validation.DefaultRules()
	if e.MinFocusIntensity > 0 {
		r.MinFocusIntensity = e.MinFocusIntensity
	}
	return r
}

// Transitions returns the status transition table for this entity type.
func (e EntityType) Transitions() validation.Transitions {
	return validation.NewTransitions(e.AllowDirectCompletion)
}
