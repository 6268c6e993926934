package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the controller package.
var (
	// ErrNotFound is returned when no device is registered under a name.
	ErrNotFound = errors.New("controller: device not found")

	// ErrDuplicate is returned when registering a name already in use.
	ErrDuplicate = errors.New("controller: device already exists")

	// ErrNoDialer is returned when connecting without a way to reach instruments.
	ErrNoDialer = errors.New("controller: no instrument dialer configured")
)

// DeviceError records one device's failure inside a bulk operation.
type DeviceError struct {
	Device    string `json:"device"`
	Operation string `json:"operation"`
	Err       error  `json:"-"`
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Device, e.Err)
}

func (e DeviceError) Unwrap() error {
	return e.Err
}

// Message returns the underlying error text, for JSON responses.
func (e DeviceError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// MarshalJSON encodes the failure with its error text.
func (e DeviceError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Device    string `json:"device"`
		Operation string `json:"operation"`
		Error     string `json:"error"`
	}{e.Device, e.Operation, e.Message()})
}

// Join combines bulk failures into a single error, or nil if there were none.
func Join(failures []DeviceError) error {
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// notFound builds the lookup error listing what is registered.
func notFound(kind, name string, available []string) error {
	list := "none"
	if len(available) > 0 {
		list = strings.Join(available, ", ")
	}
	return fmt.Errorf("%w: %s %q (available: %s)", ErrNotFound, kind, name, list)
}
