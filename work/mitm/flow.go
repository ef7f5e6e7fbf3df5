package mitm

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/klauspost/compress/gzip"

	"sfvip-launcher/work/addon"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/metrics"
	"sfvip-launcher/work/utils"
)

// maxBufferedBody bounds how much of a request or API response body is held
// in memory for the addon.
const maxBufferedBody = 64 << 20

var copyBuffers = sync.Pool{
	New: func() any {
		buf := make([]byte, 128<<10)
		return &buf
	},
}

// intercept runs a flow through the addon phases and always yields a
// response the caller can write. stream is true when the body must be piped
// without buffering.
func (l *listener) intercept(r *http.Request) (*http.Response, bool) {
	flow := &addon.Flow{
		Listener: l.name,
		Request: &addon.Request{
			Method: r.Method,
			URL:    r.URL,
			Header: r.Header,
			Body:   readRequestBody(r),
		},
	}

	l.engine.addon.Request(flow)
	if flow.Served() {
		return synthesized(r, flow.Response), false
	}

	resp, err := l.transport.RoundTrip(outbound(r, flow))
	if err != nil {
		logger.Warn("mitm: %s: %v", utils.LogURL(l.engine.obfuscate, r.URL.String()), err)
		metrics.UpstreamErrors.WithLabelValues(l.name).Inc()
		l.engine.addon.Error(flow)
		return gatewayError(r), false
	}

	flow.Response = &addon.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	l.engine.addon.ResponseHeaders(flow)
	if flow.Stream {
		return resp, true
	}

	body, err := readResponseBody(resp)
	if err != nil {
		l.engine.addon.Error(flow)
		return gatewayError(r), false
	}
	flow.Response.Body = body
	l.engine.addon.Response(flow)

	resp.Body = io.NopCloser(bytes.NewReader(flow.Response.Body))
	resp.ContentLength = int64(len(flow.Response.Body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(flow.Response.Body)))
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Transfer-Encoding")
	resp.TransferEncoding = nil
	return resp, false
}

// readRequestBody buffers a small request body so the addon can parse form
// parameters; the buffered bytes are what gets forwarded.
func readRequestBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if r.ContentLength < 0 || r.ContentLength > maxBufferedBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
	r.Body.Close()
	if err != nil {
		return nil
	}
	return body
}

// outbound builds the upstream request from the (possibly rewritten) flow.
func outbound(r *http.Request, flow *addon.Flow) *http.Request {
	out := &http.Request{
		Method: flow.Request.Method,
		URL:    flow.Request.URL,
		Header: flow.Request.Header.Clone(),
		Host:   r.Host,
	}
	if flow.Request.Body != nil {
		out.Body = io.NopCloser(bytes.NewReader(flow.Request.Body))
		out.ContentLength = int64(len(flow.Request.Body))
	} else if r.Body != nil && r.Body != http.NoBody {
		out.Body = r.Body
		out.ContentLength = r.ContentLength
	}
	out.Header.Del("Proxy-Connection")
	return out
}

// readResponseBody buffers a whole API response, transparently inflating a
// gzip encoding so the addon sees plain JSON.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, maxBufferedBody))
}

// synthesized wraps an addon-served response for the wire.
func synthesized(r *http.Request, from *addon.Response) *http.Response {
	header := from.Header
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(from.Body)))
	return &http.Response{
		StatusCode:    from.StatusCode,
		Status:        http.StatusText(from.StatusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(from.Body)),
		ContentLength: int64(len(from.Body)),
		Request:       r,
	}
}

// gatewayError is the empty 502 shown to the player on transport failure.
func gatewayError(r *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusBadGateway,
		Status:        http.StatusText(http.StatusBadGateway),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewReader(nil)),
		ContentLength: 0,
		Request:       r,
	}
}
