package bridge

import (
	"sync/atomic"

	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
)

// HandlerProxy breaks the construction cycle between the transports
// and the coordinator: the transports are built against the proxy,
// the coordinator against the transports, then Set points the proxy
// at the coordinator. Events arriving before Set are discarded.
type HandlerProxy struct {
	target atomic.Pointer[transport.Handler]
}

var _ transport.Handler = (*HandlerProxy)(nil)

// Set installs the real handler.
func (p *HandlerProxy) Set(h transport.Handler) {
	p.target.Store(&h)
}

func (p *HandlerProxy) OnFrame(transportName, connID string, data []byte) {
	if h := p.target.Load(); h != nil {
		(*h).OnFrame(transportName, connID, data)
	}
}

func (p *HandlerProxy) OnStateChange(transportName string, oldState, newState transport.State, reason transport.Reason) {
	if h := p.target.Load(); h != nil {
		(*h).OnStateChange(transportName, oldState, newState, reason)
	}
}

func (p *HandlerProxy) OnError(transportName string, err error) {
	if h := p.target.Load(); h != nil {
		(*h).OnError(transportName, err)
	}
}
