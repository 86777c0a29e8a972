package tx

import (
	"context"
	"time"
)

// Attribute is a partial transaction declaration at one level (method,
// type, interface method, interface type). Nil fields are unset.
type Attribute struct {
	Name        string
	Propagation *Propagation
	Isolation   *IsolationLevel
	ReadOnly    *bool
	Timeout     *time.Duration
}

// Required declares REQUIRED propagation.
func Required() Attribute { return Attribute{}.WithPropagation(PropagationRequired) }

// RequiresNew declares REQUIRES_NEW propagation.
func RequiresNew() Attribute { return Attribute{}.WithPropagation(PropagationRequiresNew) }

func (a Attribute) Named(name string) Attribute {
	a.Name = name
	return a
}

func (a Attribute) WithPropagation(p Propagation) Attribute {
	a.Propagation = &p
	return a
}

func (a Attribute) WithIsolation(l IsolationLevel) Attribute {
	a.Isolation = &l
	return a
}

func (a Attribute) WithReadOnly(readOnly bool) Attribute {
	a.ReadOnly = &readOnly
	return a
}

func (a Attribute) WithTimeout(d time.Duration) Attribute {
	a.Timeout = &d
	return a
}

// Resolve merges levels into a Definition. Levels are ordered most
// specific first; for each field the first level that sets it wins, and
// DefaultDefinition fills the rest.
func Resolve(levels ...Attribute) Definition {
	def := DefaultDefinition()
	var name, prop, iso, ro, timeout bool
	for _, a := range levels {
		if !name && a.Name != "" {
			def.Name, name = a.Name, true
		}
		if !prop && a.Propagation != nil {
			def.Propagation, prop = *a.Propagation, true
		}
		if !iso && a.Isolation != nil {
			def.Isolation, iso = *a.Isolation, true
		}
		if !ro && a.ReadOnly != nil {
			def.ReadOnly, ro = *a.ReadOnly, true
		}
		if !timeout && a.Timeout != nil {
			def.Timeout, timeout = *a.Timeout, true
		}
	}
	return def
}

// Interceptor wraps unit-of-work entry points. It is the explicit
// replacement for annotation-driven proxies: every call goes through Do, so
// there is no self-invocation bypass.
type Interceptor struct {
	runner    Runner
	typeLevel []Attribute
}

// NewInterceptor creates an interceptor whose defaults are typeLevel,
// most specific first (type, then interface method, then interface type).
func NewInterceptor(runner Runner, typeLevel ...Attribute) *Interceptor {
	return &Interceptor{runner: runner, typeLevel: typeLevel}
}

// Definition resolves the definition Do would use for method.
func (i *Interceptor) Definition(method Attribute) Definition {
	levels := make([]Attribute, 0, len(i.typeLevel)+1)
	levels = append(levels, method)
	levels = append(levels, i.typeLevel...)
	return Resolve(levels...)
}

// Do runs fn in a transaction resolved from method and the type-level
// defaults. Commit on nil error, rollback on error or panic.
func (i *Interceptor) Do(ctx context.Context, method Attribute, fn func(ctx context.Context) error) error {
	return i.runner.Run(ctx, i.Definition(method), fn)
}
