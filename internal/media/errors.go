package media

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	ErrEmptyConstraints  = errors.New("no audio or video requested")
	ErrUnsupportedFormat = errors.New("unsupported media format")
	ErrUnsupportedSource = errors.New("unsupported media source")
)

type DeviceErrorKind int

const (
	DeviceErrorUnknown DeviceErrorKind = iota
	DeviceNotFound
	DeviceBusy
	ConstraintsUnsatisfiable
	PermissionDenied
	MalformedConstraints
)

func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceNotFound:
		return "device_not_found"
	case DeviceBusy:
		return "device_busy"
	case ConstraintsUnsatisfiable:
		return "constraints_unsatisfiable"
	case PermissionDenied:
		return "permission_denied"
	case MalformedConstraints:
		return "malformed_constraints"
	default:
		return "unknown"
	}
}

// DeviceError is a failed attempt to acquire local media.
type DeviceError struct {
	Kind   DeviceErrorKind
	Source string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("media %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("media %s (%s): %v", e.Kind, e.Source, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the participant.
func (e *DeviceError) UserMessage() string {
	switch e.Kind {
	case DeviceNotFound:
		return "Required track is missing"
	case DeviceBusy:
		return "Webcam or mic are already in use"
	case ConstraintsUnsatisfiable:
		return "Constraints can not be satisfied by avb. devices"
	case PermissionDenied:
		return "Permission denied in browser"
	case MalformedConstraints:
		return "Empty constraints object"
	default:
		return "Something went wrong"
	}
}

// ClassifyDeviceError wraps err into a DeviceError. An existing DeviceError is returned as is.
func ClassifyDeviceError(source string, err error) *DeviceError {
	if err == nil {
		return nil
	}

	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}

	kind := DeviceErrorUnknown
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = DeviceNotFound
	case errors.Is(err, os.ErrPermission):
		kind = PermissionDenied
	case errors.Is(err, syscall.EBUSY):
		kind = DeviceBusy
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrUnsupportedSource):
		kind = ConstraintsUnsatisfiable
	case errors.Is(err, ErrEmptyConstraints):
		kind = MalformedConstraints
	}

	return &DeviceError{Kind: kind, Source: source, Err: err}
}

// KindFromName maps the error names reported by browsers' getUserMedia.
func KindFromName(name string) DeviceErrorKind {
	switch name {
	case "NotFoundError", "DevicesNotFoundError":
		return DeviceNotFound
	case "NotReadableError", "TrackStartError":
		return DeviceBusy
	case "OverconstrainedError", "ConstraintNotSatisfiedError":
		return ConstraintsUnsatisfiable
	case "NotAllowedError", "PermissionDeniedError":
		return PermissionDenied
	case "TypeError":
		return MalformedConstraints
	default:
		return DeviceErrorUnknown
	}
}
