// Package logging defines the small logger seam used across the provider,
// connection manager, and awareness pipeline.
package logging

// Logger is a minimal printf-style logging interface: four severity-tagged
// methods, enough for call sites to log without depending on a concrete
// backend.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop discards everything; the zero value is ready to use.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}

var _ Logger = Nop{}
