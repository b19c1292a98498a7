package ui

import (
	"sync"
	"sync/atomic"
)

type Loop struct {
	exec    chan func()
	closed  chan struct{}
	once    sync.Once
	running atomic.Bool
}

func NewLoop() *Loop {
	return &Loop{exec: make(chan func()), closed: make(chan struct{})}
}

func (l *Loop) Run() {
	l.running.Store(true)
	defer l.running.Store(false)
	for {
		select {
		case <-l.closed:
			return
		case fn := <-l.exec:
			fn()
		}
	}
}

func (l *Loop) Post(fn func()) {
	go func() {
		select {
		case <-l.closed:
		case l.exec <- fn:
		}
	}()
}

// PostSynchronous runs fn on the loop goroutine and waits for it. Without a
// running loop fn runs on the caller.
func (l *Loop) PostSynchronous(fn func()) {
	if !l.running.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	select {
	case <-l.closed:
		fn()
	case l.exec <- func() { fn(); close(done) }:
		<-done
	}
}

func (l *Loop) Quit() {
	l.once.Do(func() { close(l.closed) })
}

func (l *Loop) Done() <-chan struct{} {
	return l.closed
}
