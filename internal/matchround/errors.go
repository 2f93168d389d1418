package matchround

// codeError is a sentinel that also carries its wire code.
type codeError string

func (e codeError) Error() string { return string(e) }
func (e codeError) Code() string  { return string(e) }

var (
	ErrInvalidAnswer error = codeError("invalid_request")
	ErrStaleQuestion error = codeError("stale_question")
	// ErrNotDue rejects a client advance before the round's deadline.
	ErrNotDue error = codeError("not_due")
)
