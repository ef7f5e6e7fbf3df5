// Package mitm is the interception engine: one loopback listener per
// upstream proxy, terminating TLS with certificates signed by a local CA so
// the addon can read and rewrite portal API traffic in flight.
package mitm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"sfvip-launcher/work/addon"
	"sfvip-launcher/work/logger"
)

// Binding ties one allocated loopback port to its upstream proxy string.
type Binding struct {
	Port     int    `json:"port"`
	Upstream string `json:"upstream"`
}

// Engine runs the proxy listeners. An engine with no bindings is idle but
// valid; Stop is safe in every state.
type Engine struct {
	ca        *CA
	addon     *addon.Addon
	bindings  []Binding
	obfuscate bool

	mu        sync.Mutex
	listeners []*listener
	started   bool
}

// NewEngine wires the engine; listeners start on Start. obfuscate masks
// portal URLs in the engine's own log lines.
func NewEngine(ca *CA, a *addon.Addon, bindings []Binding, obfuscate bool) *Engine {
	return &Engine{ca: ca, addon: a, bindings: bindings, obfuscate: obfuscate}
}

// Start binds every listener. A port that cannot be bound is fatal and
// tears down the ones already started; an invalid upstream only skips its
// own listener.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	for _, binding := range e.bindings {
		upstream, err := ParseUpstream(binding.Upstream)
		if err != nil {
			logger.Warn("mitm: skipping listener on port %d: %v", binding.Port, err)
			continue
		}
		addr := fmt.Sprintf("127.0.0.1:%d", binding.Port)
		tcp, err := net.Listen("tcp", addr)
		if err != nil {
			e.stopLocked()
			return fmt.Errorf("mitm: listen %s: %w", addr, err)
		}
		l := newListener(e, addr, upstream)
		e.listeners = append(e.listeners, l)
		go func() {
			if err := l.server.Serve(tcp); err != nil && err != http.ErrServerClosed {
				logger.Error("mitm: %s: %v", l.name, err)
			}
		}()
		logger.Info("mitm: listening on %s (upstream %s)", addr, describeUpstream(upstream))
	}
	raisePriority()
	e.started = true
	return nil
}

// Stop shuts every listener down.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, l := range e.listeners {
		l.server.Shutdown(ctx)
		l.transport.CloseIdleConnections()
	}
	e.listeners = nil
	e.started = false
}

func describeUpstream(upstream *url.URL) string {
	if upstream == nil {
		return "direct"
	}
	return upstream.Host
}

// newTransport builds the outbound side of one listener. Portals routinely
// present self-signed certificates, so upstream verification is off.
func newTransport(upstream *url.URL) *http.Transport {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if upstream != nil {
		transport.Proxy = http.ProxyURL(upstream)
	}
	return transport
}
