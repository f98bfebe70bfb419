package types

// ErrorCode represents a MOO error value (E_TYPE, E_DIV, etc.)
type ErrorCode int

const (
	E_NONE    ErrorCode = 0
	E_TYPE    ErrorCode = 1
	E_DIV     ErrorCode = 2
	E_PERM    ErrorCode = 3
	E_PROPNF  ErrorCode = 4
	E_VERBNF  ErrorCode = 5
	E_VARNF   ErrorCode = 6
	E_INVIND  ErrorCode = 7
	E_RECMOVE ErrorCode = 8
	E_MAXREC  ErrorCode = 9
	E_RANGE   ErrorCode = 10
	E_ARGS    ErrorCode = 11
	E_NACC    ErrorCode = 12
	E_INVARG  ErrorCode = 13
	E_QUOTA   ErrorCode = 14
	E_FLOAT   ErrorCode = 15
)

var errorNames = [...]string{
	"E_NONE", "E_TYPE", "E_DIV", "E_PERM", "E_PROPNF", "E_VERBNF",
	"E_VARNF", "E_INVIND", "E_RECMOVE", "E_MAXREC", "E_RANGE",
	"E_ARGS", "E_NACC", "E_INVARG", "E_QUOTA", "E_FLOAT",
}

var errorMessages = [...]string{
	"No error",
	"Type mismatch",
	"Division by zero",
	"Permission denied",
	"Property not found",
	"Verb not found",
	"Variable not found",
	"Invalid indirection",
	"Recursive move",
	"Too many verb calls",
	"Range error",
	"Incorrect number of arguments",
	"Move refused by destination",
	"Invalid argument",
	"Resource limit exceeded",
	"Floating-point arithmetic error",
}

// String returns the printed form, the uppercase identifier.
func (e ErrorCode) String() string {
	if e >= 0 && int(e) < len(errorNames) {
		return errorNames[e]
	}
	return "E_NONE"
}

// Message returns the conventional LambdaMOO message for an error code.
func (e ErrorCode) Message() string {
	if e >= 0 && int(e) < len(errorMessages) {
		return errorMessages[e]
	}
	return "No error"
}

// ErrorFromString maps an uppercase identifier back to its code.
func ErrorFromString(s string) (ErrorCode, bool) {
	for i, name := range errorNames {
		if name == s {
			return ErrorCode(i), true
		}
	}
	return E_NONE, false
}

// ErrValue represents a MOO error as a first-class value, with an
// optional message distinct from the code's conventional one.
type ErrValue struct {
	Code ErrorCode
	msg  string
}

// NewErr creates an error value carrying only its code.
func NewErr(code ErrorCode) ErrValue {
	return ErrValue{Code: code}
}

// NewErrMsg creates an error value with an explicit message.
func NewErrMsg(code ErrorCode, msg string) ErrValue {
	return ErrValue{Code: code, msg: msg}
}

func (e ErrValue) Type() TypeCode { return TYPE_ERR }

func (e ErrValue) String() string { return e.Code.String() }

// Message returns the explicit message if set, else the conventional one.
func (e ErrValue) Message() string {
	if e.msg != "" {
		return e.msg
	}
	return e.Code.Message()
}

// Equal compares by code only; messages are not part of error identity.
func (e ErrValue) Equal(other Value) bool {
	if o, ok := other.(ErrValue); ok {
		return e.Code == o.Code
	}
	return false
}

func (e ErrValue) Truthy() bool { return false }
