package emulator

// Events are optional callbacks fired on the caller's goroutine.
type Events struct {
	OnLaunch                      func(titleID uint32, name string)
	OnTerminate                   func()
	OnExit                        func()
	OnShaderStorageInitialization func(loading bool)
}

func (e *Emulator) fireLaunch(titleID uint32, name string) {
	if fn := e.events.OnLaunch; fn != nil {
		fn(titleID, name)
	}
}

func (e *Emulator) fireTerminate() {
	if fn := e.events.OnTerminate; fn != nil {
		fn()
	}
}

func (e *Emulator) fireExit() {
	if fn := e.events.OnExit; fn != nil {
		fn()
	}
}

func (e *Emulator) fireShaderStorageInitialization(loading bool) {
	if fn := e.events.OnShaderStorageInitialization; fn != nil {
		fn(loading)
	}
}
