package session

import (
	"context"
	"sync"
)

// sessionFuture is a single-assignment handle to the live session. Chunk
// forwarding is wired before the session exists; awaiters block until the
// handle resolves or their context ends.
type sessionFuture struct {
	once sync.Once
	done chan struct{}
	sess LiveSession
}

func newSessionFuture() *sessionFuture {
	return &sessionFuture{done: make(chan struct{})}
}

func (f *sessionFuture) resolve(sess LiveSession) {
	f.once.Do(func() {
		f.sess = sess
		close(f.done)
	})
}

func (f *sessionFuture) await(ctx context.Context) (LiveSession, error) {
	select {
	case <-f.done:
		return f.sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
