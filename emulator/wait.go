package emulator

import "context"

// WaitUntilExit blocks until the title's main thread exits for good. A main
// thread that ends because a restore replaced it is followed to its
// successor. OnExit fires once per call.
func (e *Emulator) WaitUntilExit(ctx context.Context) error {
	for {
		main := e.MainThread()
		if main != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-main.Done():
			}
		}
		if e.restoring.Load() {
			if err := e.restoreFence.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		if e.MainThread() == main {
			break
		}
	}
	e.fireExit()
	return nil
}
