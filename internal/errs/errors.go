package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Every rejected command unwraps to exactly one of these.
var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrPoolEmpty              = errors.New("pool empty")        // reserved for a swap path
	ErrSlippageTooHigh        = errors.New("slippage too high") // reserved for a swap path
	ErrBelowMinimum           = errors.New("below minimum")
	ErrAboveMaximum           = errors.New("above maximum")
	ErrAlreadyInitialized     = errors.New("already initialized")
	ErrNotInitialized         = errors.New("not initialized")
	ErrInvalidPrice           = errors.New("invalid price")
)

var kindCodes = map[error]uint32{
	ErrNotAuthorized:          100,
	ErrInsufficientBalance:    101,
	ErrInvalidAmount:          102,
	ErrInsufficientCollateral: 103,
	ErrPoolEmpty:              104,
	ErrSlippageTooHigh:        105,
	ErrBelowMinimum:           106,
	ErrAboveMaximum:           107,
	ErrAlreadyInitialized:     108,
	ErrNotInitialized:         109,
	ErrInvalidPrice:           110,
}

var kindNames = map[error]string{
	ErrNotAuthorized:          "NotAuthorized",
	ErrInsufficientBalance:    "InsufficientBalance",
	ErrInvalidAmount:          "InvalidAmount",
	ErrInsufficientCollateral: "InsufficientCollateral",
	ErrPoolEmpty:              "PoolEmpty",
	ErrSlippageTooHigh:        "SlippageTooHigh",
	ErrBelowMinimum:           "BelowMinimum",
	ErrAboveMaximum:           "AboveMaximum",
	ErrAlreadyInitialized:     "AlreadyInitialized",
	ErrNotInitialized:         "NotInitialized",
	ErrInvalidPrice:           "InvalidPrice",
}

// Error is a rejected state transition.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Error())
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an Error for op with a formatted detail message.
func New(kind error, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind wrapped by err, or nil when err is not
// a ledger rejection.
func KindOf(err error) error {
	for kind := range kindCodes {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code returns the numeric code for err's kind, 0 when unknown.
func Code(err error) uint32 {
	kind := KindOf(err)
	if kind == nil {
		return 0
	}
	return kindCodes[kind]
}

// Name returns the kind name for err ("NotAuthorized", ...), "Internal"
// when err is not a ledger rejection.
func Name(err error) string {
	kind := KindOf(err)
	if kind == nil {
		return "Internal"
	}
	return kindNames[kind]
}
