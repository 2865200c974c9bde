package process

// Terminator delivers termination requests to a process and its
// descendants. force selects the uncatchable variant. A target that no
// longer exists is not an error.
type Terminator interface {
	Terminate(pid int, force bool) error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(pid int, force bool) error

// Terminate calls f(pid, force).
func (f TerminatorFunc) Terminate(pid int, force bool) error { return f(pid, force) }

// DefaultTerminator returns the platform terminator.
func DefaultTerminator() Terminator { return groupTerminator{} }
