package wirehome

import "context"

// ShutdownToken is the process-wide cancellation source. It is signalled once
// at shutdown; every background loop selects on Done between units of work.
type ShutdownToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewShutdownToken creates a token derived from the given parent context.
func NewShutdownToken(parent context.Context) *ShutdownToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &ShutdownToken{ctx: ctx, cancel: cancel}
}

// Signal requests shutdown. It is safe to call multiple times.
func (t *ShutdownToken) Signal() {
	t.cancel()
}

// Done returns the channel closed when shutdown has been signalled.
func (t *ShutdownToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns the context cancelled at shutdown.
func (t *ShutdownToken) Context() context.Context {
	return t.ctx
}

// IsShutdown reports whether shutdown has been signalled.
func (t *ShutdownToken) IsShutdown() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}
