package userop

import "errors"

// ErrConfiguration is returned when a required setting for an upstream service is missing
var ErrConfiguration = errors.New("configuration error")

// MissingSettingError reports an unset environment variable. It matches
// ErrConfiguration without repeating its text.
type MissingSettingError struct {
	Setting string
}

func (e *MissingSettingError) Error() string {
	return e.Setting + " is not set in environment variables"
}

func (e *MissingSettingError) Is(target error) bool {
	return target == ErrConfiguration
}

// MissingSetting returns the configuration error for the named variable
func MissingSetting(name string) error {
	return &MissingSettingError{Setting: name}
}

// ErrUpstream matches any failure surfaced by the bundler or paymaster gateways
var ErrUpstream = errors.New("upstream error")

// GatewayError wraps a failed gateway operation with a fixed, human readable prefix
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrUpstream
}

// WrapGateway prefixes err with op, returning nil when err is nil
func WrapGateway(op string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{Op: op, Err: err}
}
