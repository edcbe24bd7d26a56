// Package registry holds the immutable table of commands the bridge serves.
package registry

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/protocol"
)

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
	TypeArray  ParamType = "array"
	TypeObject ParamType = "object"
	TypeAny    ParamType = "any"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeInt, TypeNumber, TypeBool, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// Ordering controls whether a command is gated behind earlier commands of the same session.
type Ordering string

const (
	OrderingUnordered Ordering = "unordered"
	OrderingStrict    Ordering = "strict"
)

// ParamSpec describes a single parameter.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     interface{}
	Description string
}

// Handler executes a command on the host mutation thread.
type Handler interface {
	// Validate runs on the network goroutine before scheduling. It must not touch host state.
	Validate(params protocol.Params) error
	Execute(ctx context.Context, params protocol.Params) (interface{}, error)
}

// ExecuteFunc is the signature of a command body.
type ExecuteFunc func(ctx context.Context, params protocol.Params) (interface{}, error)

// ValidateFunc is the signature of a command pre-check.
type ValidateFunc func(params protocol.Params) error

type funcHandler struct {
	validate ValidateFunc
	execute  ExecuteFunc
}

func (h funcHandler) Validate(params protocol.Params) error {
	if h.validate == nil {
		return nil
	}
	return h.validate(params)
}

func (h funcHandler) Execute(ctx context.Context, params protocol.Params) (interface{}, error) {
	return h.execute(ctx, params)
}

// Handle wraps an execute function with no extra validation.
func Handle(execute ExecuteFunc) Handler {
	return funcHandler{execute: execute}
}

// HandleValidated wraps an execute function and a pre-check.
func HandleValidated(validate ValidateFunc, execute ExecuteFunc) Handler {
	return funcHandler{validate: validate, execute: execute}
}

// Descriptor describes one command. Descriptors are copied on registration and
// never change after the registry is frozen.
type Descriptor struct {
	Name        string
	Description string
	Subsystem   string
	Params      []ParamSpec

	// Mutates marks commands that change host state.
	Mutates bool
	// Ordering defaults to strict for mutating commands and unordered otherwise.
	Ordering Ordering
	// ThreadSafe handlers that do not mutate may run off the mutation thread.
	ThreadSafe bool
	// Atomic handlers roll back partial work on failure; others report progress.
	Atomic bool
	// Strict descriptors reject parameters they do not declare.
	Strict bool
	// Requires is a host version constraint, e.g. ">=5.3".
	Requires string

	Handler Handler
}

// IsStrictlyOrdered reports whether the command takes the session's ordering gate.
func (d *Descriptor) IsStrictlyOrdered() bool {
	return d.Ordering == OrderingStrict
}

// FastPath reports whether the command may run on the caller's goroutine.
func (d *Descriptor) FastPath() bool {
	return !d.Mutates && d.ThreadSafe
}

// Param returns the spec for name.
func (d *Descriptor) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
