package core

// Logger is the application logger.
// expected args: error | map[string]interface{} | Actor
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Actor is whoever performs an operation on the core.
type Actor struct {
	ID       int
	Name     string
	Elevated bool // admin privilege
}
