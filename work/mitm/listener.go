package mitm

import (
	"bufio"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/metrics"
)

// listener is one loopback proxy endpoint bound to one upstream.
type listener struct {
	name      string
	engine    *Engine
	transport *http.Transport
	server    *http.Server
}

func newListener(e *Engine, addr string, upstream *url.URL) *listener {
	l := &listener{
		name:      addr,
		engine:    e,
		transport: newTransport(upstream),
	}
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return l
}

func (l *listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveFlows.WithLabelValues(l.name).Inc()
	defer metrics.ActiveFlows.WithLabelValues(l.name).Dec()

	if r.Method == http.MethodConnect {
		l.serveConnect(w, r)
		return
	}
	l.servePlain(w, r)
}

// servePlain handles proxied plaintext HTTP.
func (l *listener) servePlain(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		if r.Host == "" {
			http.Error(w, "no host", http.StatusBadRequest)
			return
		}
		r.URL.Scheme = "http"
		r.URL.Host = r.Host
	}
	resp, stream := l.intercept(r)
	defer closeBody(resp)

	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = vs
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil {
		return
	}
	if stream {
		copyStream(w, resp.Body)
	} else {
		io.Copy(w, resp.Body)
	}
}

// serveConnect hijacks the tunnel and terminates TLS with a leaf signed by
// the local CA, then serves the decrypted requests in a loop.
func (l *listener) serveConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	cert, err := l.engine.ca.LeafFor(r.Host)
	if err != nil {
		http.Error(w, "certificate failure", http.StatusBadGateway)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	tlsConn := tls.Server(conn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err := tlsConn.Handshake(); err != nil {
		logger.Debug("mitm: handshake with %s: %v", r.Host, err)
		return
	}
	defer tlsConn.Close()

	host := r.Host
	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF && !isClosedConn(err) {
				logger.Debug("mitm: read from %s: %v", host, err)
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = req.Host
		if req.URL.Host == "" {
			req.URL.Host = host
		}

		resp, _ := l.intercept(req)
		err = resp.Write(tlsConn)
		closeBody(resp)
		if err != nil {
			if !isClosedConn(err) {
				logger.Debug("mitm: write to %s: %v", host, err)
			}
			return
		}
	}
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func isClosedConn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// copyStream pipes a response body with a pooled buffer.
func copyStream(dst io.Writer, src io.Reader) {
	buf := copyBuffers.Get().(*[]byte)
	defer copyBuffers.Put(buf)
	io.CopyBuffer(dst, src, *buf)
}
