package transfer

import (
	"errors"
	"fmt"
)

// OperationKind names an enhancement offered by the service.
type OperationKind string

const (
	RemoveBackground OperationKind = "background"
	Upscale          OperationKind = "upscale"
)

// Scale factors accepted by the upscale endpoint.
const (
	Scale2x = 2
	Scale4x = 4
)

// ErrInvalidOperation is returned for unknown kinds or unsupported scale factors.
var ErrInvalidOperation = errors.New("invalid enhancement operation")

// Operation is one enhancement request. Scale is only meaningful for Upscale.
type Operation struct {
	Kind  OperationKind
	Scale int
}

// RemoveBackgroundOp builds a background removal operation.
func RemoveBackgroundOp() Operation {
	return Operation{Kind: RemoveBackground}
}

// UpscaleOp builds an upscale operation with the given factor.
func UpscaleOp(scale int) Operation {
	return Operation{Kind: Upscale, Scale: scale}
}

// ParseOperationKind accepts the CLI spellings of an operation.
func ParseOperationKind(s string) (OperationKind, error) {
	switch s {
	case "background", "remove-background", "bg":
		return RemoveBackground, nil
	case "upscale":
		return Upscale, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q (want background or upscale)", ErrInvalidOperation, s)
}

// ValidScale reports whether scale is accepted by the upscale endpoint.
func ValidScale(scale int) bool {
	return scale == Scale2x || scale == Scale4x
}

// Validate checks the operation against what the service accepts.
func (o Operation) Validate() error {
	switch o.Kind {
	case RemoveBackground:
		return nil
	case Upscale:
		if !ValidScale(o.Scale) {
			return fmt.Errorf("%w: scale must be 2 or 4, got %d", ErrInvalidOperation, o.Scale)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, o.Kind)
}

// String returns a human-readable label, e.g. "Upscale 4x".
func (o Operation) String() string {
	switch o.Kind {
	case RemoveBackground:
		return "Remove Background"
	case Upscale:
		return fmt.Sprintf("Upscale %dx", o.Scale)
	}
	return string(o.Kind)
}
