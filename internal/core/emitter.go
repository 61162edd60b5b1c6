package core

// Emitter fans UI-relevant events out to whoever renders the session.
type Emitter interface {
	Emit(kind string, data any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(kind string, data any)

func (f EmitterFunc) Emit(kind string, data any) { f(kind, data) }

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(string, any) {}
