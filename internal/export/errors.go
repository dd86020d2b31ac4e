package export

// Kind classifies the step at which an export failed.
type Kind int

const (
	KindFormat Kind = iota
	KindDirectory
	KindWrite
)

func (k Kind) prefix() string {
	switch k {
	case KindFormat:
		return "Format error: "
	case KindDirectory:
		return "Directory creation error: "
	default:
		return "Write error: "
	}
}

// Error is a per-record export failure. It never stops an export run.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.prefix() + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
