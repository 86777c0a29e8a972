package tx

import (
	"fmt"
	"time"

	"txprop/internal/core/apperror"
)

// Propagation decides whether a logical transaction joins the ambient
// physical transaction or runs in an isolated one.
type Propagation int

const (
	// PropagationRequired joins the active transaction or starts one.
	PropagationRequired Propagation = iota
	// PropagationRequiresNew suspends the active transaction, if any, and
	// always starts a new physical transaction.
	PropagationRequiresNew
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "REQUIRED"
	case PropagationRequiresNew:
		return "REQUIRES_NEW"
	default:
		return fmt.Sprintf("Propagation(%d)", int(p))
	}
}

// ParsePropagation accepts the names produced by String.
func ParsePropagation(s string) (Propagation, error) {
	switch s {
	case "", "REQUIRED", "required":
		return PropagationRequired, nil
	case "REQUIRES_NEW", "requires_new":
		return PropagationRequiresNew, nil
	}
	return 0, apperror.NewConfiguration(fmt.Sprintf("unsupported propagation behavior %q", s))
}

// IsolationLevel is passed through to the ResourceFactory untouched.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationDefault:
		return "DEFAULT"
	case IsolationReadUncommitted:
		return "READ_UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ_COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE_READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return fmt.Sprintf("IsolationLevel(%d)", int(l))
	}
}

// Definition is the immutable request describing one logical transaction.
type Definition struct {
	// Name shows up in logs and spans only.
	Name        string
	Propagation Propagation
	Isolation   IsolationLevel
	ReadOnly    bool
	// Timeout applies to the physical transaction started by this
	// definition. Zero means no timeout. Ignored when participating.
	Timeout time.Duration
}

// DefaultDefinition returns REQUIRED, default isolation, read-write, no timeout.
func DefaultDefinition() Definition {
	return Definition{
		Propagation: PropagationRequired,
		Isolation:   IsolationDefault,
	}
}

// Validate fails fast on definitions the manager cannot honor.
func (d Definition) Validate() error {
	switch d.Propagation {
	case PropagationRequired, PropagationRequiresNew:
	default:
		return apperror.NewConfiguration(fmt.Sprintf("unsupported propagation behavior %s", d.Propagation)).
			WithDetail("transaction", d.Name)
	}
	if d.Isolation < IsolationDefault || d.Isolation > IsolationSerializable {
		return apperror.NewConfiguration(fmt.Sprintf("unsupported isolation level %s", d.Isolation)).
			WithDetail("transaction", d.Name)
	}
	if d.Timeout < 0 {
		return apperror.NewConfiguration(fmt.Sprintf("invalid transaction timeout %s", d.Timeout)).
			WithDetail("transaction", d.Name)
	}
	return nil
}
