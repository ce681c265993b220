// Package errs supports passing expected failures out of the node API
// handlers with the HTTP status the caller should see.
package errs

import "errors"

// Response is the JSON form every handler failure is reported in.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted carries an error a handler expects and is safe to show to the
// caller, together with the status code to respond with. Anything else
// is logged and masked as a 500.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps an expected handler error with an HTTP status code.
func NewTrusted(err error, status int) error {
	return &Trusted{
		Err:    err,
		Status: status,
	}
}

// Error implements the error interface using the wrapped error's message.
func (t *Trusted) Error() string {
	return t.Err.Error()
}

// IsTrusted reports whether a Trusted error exists in the chain.
func IsTrusted(err error) bool {
	var t *Trusted
	return errors.As(err, &t)
}

// GetTrusted pulls the Trusted error out of the chain. The caller must
// check IsTrusted first or handle a nil return.
func GetTrusted(err error) *Trusted {
	var t *Trusted
	if !errors.As(err, &t) {
		return nil
	}
	return t
}
