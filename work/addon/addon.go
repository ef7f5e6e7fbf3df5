// Package addon holds the single interception policy object shared by every
// proxy listener. It classifies portal API flows, injects synthetic "all"
// categories, feeds the catalog cache and answers EPG queries. It never
// fails a flow: any panic in a phase is swallowed and the original bytes
// pass through unchanged.
package addon

import (
	"net/http"
	"net/url"

	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/epg"
	"sfvip-launcher/work/journal"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/metrics"
)

// Request is the player-side request of one flow.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Response is the upstream (or synthesized) response of one flow.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Flow is one intercepted exchange. The listener fills Request, calls the
// phases in order, and honors Stream and the served response.
type Flow struct {
	Listener string
	Request  *Request
	Response *Response

	// Stream is decided in ResponseHeaders: true means the body is piped
	// without buffering and the response phase never runs.
	Stream bool

	served bool
}

// Serve installs a synthesized response; the listener must not contact the
// upstream for this flow.
func (f *Flow) Serve(resp *Response) {
	f.Response = resp
	f.served = true
}

// Served reports whether the request phase answered the flow itself.
func (f *Flow) Served() bool {
	return f.served
}

// CategoryNames carries the localized names of the injected categories.
type CategoryNames struct {
	Live   string
	Vod    string
	Series string
	Cached string
}

// Addon is the per-process interception policy.
type Addon struct {
	cache      *cache.Store
	epg        *epg.Store
	journal    *journal.Journal // nil disables flow journaling
	marker     string           // header marking responses synthesized from cache
	names      CategoryNames
	categories map[panel]*SyntheticCategory
}

// New builds the addon around its stores. marker is the header name stamped
// on cache-served responses so the save path ignores them.
func New(cacheStore *cache.Store, epgStore *epg.Store, flows *journal.Journal, marker string, names CategoryNames) *Addon {
	return &Addon{
		cache:   cacheStore,
		epg:     epgStore,
		journal: flows,
		marker:  marker,
		names:   names,
		categories: map[panel]*SyntheticCategory{
			panelLive:   NewSyntheticCategory(names.Live),
			panelVod:    NewSyntheticCategory(names.Vod),
			panelSeries: NewSyntheticCategory(names.Series),
		},
	}
}

// Request runs the request phase.
func (a *Addon) Request(flow *Flow) {
	defer a.recovered(flow, "request")

	api, ok := classify(flow.Request)
	if !ok {
		return
	}
	metrics.FlowsIntercepted.WithLabelValues(api.action).Inc()

	switch {
	case api.action == actionOrderedList:
		a.serveCachedAll(flow, api)
		if flow.Served() {
			a.record(flow, api)
		}
	case api.panel != panelNone && api.action == api.panel.streamsAction():
		a.stripSyntheticCategory(flow, api)
		if key, ok := api.cacheKey(); ok {
			a.cache.StopKey(key)
		}
	default:
		// Any other API action for a cached panel aborts its save.
		if key, ok := api.cacheKey(); ok {
			a.cache.StopKey(key)
		}
	}
}

// ResponseHeaders decides streaming: API responses are buffered so the
// response phase can mutate them, everything else is piped through.
func (a *Addon) ResponseHeaders(flow *Flow) {
	defer a.recovered(flow, "responseheaders")
	_, isAPI := classify(flow.Request)
	flow.Stream = !isAPI
}

// Response runs the response phase on a fully buffered body.
func (a *Addon) Response(flow *Flow) {
	defer a.recovered(flow, "response")

	if flow.Stream || flow.Response == nil {
		return
	}
	api, ok := classify(flow.Request)
	if !ok {
		return
	}

	switch api.action {
	case actionSeriesInfo:
		a.fixSeriesEpisodes(flow)
	case actionLiveStreams:
		a.epg.BuildServerChannels(api.server, flow.Response.Body)
	case actionShortEPG:
		a.answerShortEPG(flow, api)
	case actionOrderedList:
		a.ingestOrderedPage(flow, api)
	case actionCategories:
		a.insertCachedCategory(flow, api)
	default:
		if api.panel != panelNone && api.action == api.panel.categoriesAction() {
			a.injectAllCategory(flow, api)
		}
	}
	a.record(flow, api)
}

// record journals one finished API flow.
func (a *Addon) record(flow *Flow, api apiRequest) {
	if a.journal == nil || flow.Response == nil {
		return
	}
	a.journal.Record(journal.Entry{
		Listener:  flow.Listener,
		Server:    api.server,
		Action:    api.action,
		Status:    flow.Response.StatusCode,
		FromCache: flow.Served(),
		BodyBytes: int64(len(flow.Response.Body)),
	})
}

// Error runs when the upstream transport failed; the listener answers 502.
func (a *Addon) Error(flow *Flow) {
	defer a.recovered(flow, "error")
	if api, ok := classify(flow.Request); ok {
		if key, ok := api.cacheKey(); ok {
			a.cache.StopKey(key)
		}
	}
}

// recovered keeps addon panics away from the listener. The flow proceeds
// with whatever bytes it had before the phase started.
func (a *Addon) recovered(flow *Flow, phase string) {
	if r := recover(); r != nil {
		metrics.FlowsIntercepted.WithLabelValues("panic").Inc()
		logger.Error("addon: %s phase panic on %s: %v", phase, flow.Request.URL.Path, r)
	}
}
