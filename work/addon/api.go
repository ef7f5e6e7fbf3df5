package addon

import (
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/grafana/regexp"

	"sfvip-launcher/work/cache"
)

// portal API actions
const (
	actionSeriesInfo  = "get_series_info"
	actionLiveStreams = "get_live_streams"
	actionShortEPG    = "get_short_epg"
	actionOrderedList = "get_ordered_list"
	actionCategories  = "get_categories"
)

// CachedAllID is the category id of the injected cached-all entry. Portals
// use "*" for their own whole-catalog category; this one must never collide
// with a real id.
const CachedAllID = "*cached"

// allCategoryID is the portal's own whole-catalog category id.
const allCategoryID = "*"

var apiPathRe = regexp.MustCompile(`(?:^|/)(?:player_api|portal)\.php$`)

// panel is one of the three content panels of an Xtream portal.
type panel int

const (
	panelNone panel = iota
	panelLive
	panelVod
	panelSeries
)

func (p panel) categoriesAction() string {
	switch p {
	case panelLive:
		return "get_live_categories"
	case panelVod:
		return "get_vod_categories"
	case panelSeries:
		return "get_series_categories"
	}
	return ""
}

func (p panel) streamsAction() string {
	switch p {
	case panelLive:
		return "get_live_streams"
	case panelVod:
		return "get_vod_streams"
	case panelSeries:
		return "get_series"
	}
	return ""
}

func (p panel) mediaType() (cache.MediaType, bool) {
	switch p {
	case panelVod:
		return cache.Vod, true
	case panelSeries:
		return cache.Series, true
	}
	return "", false
}

func panelForAction(action string) panel {
	switch action {
	case "get_live_categories", "get_live_streams":
		return panelLive
	case "get_vod_categories", "get_vod_streams":
		return panelVod
	case "get_series_categories", "get_series", "get_series_info":
		return panelSeries
	}
	return panelNone
}

// mediaTypeParam maps the MAC portal type parameter onto a cache type.
func mediaTypeParam(value string) (cache.MediaType, bool) {
	switch strings.ToLower(value) {
	case "vod":
		return cache.Vod, true
	case "series":
		return cache.Series, true
	}
	return "", false
}

// apiRequest is the classification of one API flow.
type apiRequest struct {
	action string
	server string
	panel  panel
	mac    bool // portal.php rather than player_api.php
	query  url.Values
}

// classify recognizes portal API requests and extracts their action from
// the query string or a form-encoded POST body.
func classify(req *Request) (apiRequest, bool) {
	if req == nil || req.URL == nil || !apiPathRe.MatchString(req.URL.Path) {
		return apiRequest{}, false
	}
	query := req.URL.Query()
	action := query.Get("action")
	if action == "" && req.Method == "POST" {
		if form, err := url.ParseQuery(string(req.Body)); err == nil {
			action = form.Get("action")
			for k, v := range form {
				if _, present := query[k]; !present {
					query[k] = v
				}
			}
		}
	}
	if action == "" {
		return apiRequest{}, false
	}
	return apiRequest{
		action: action,
		server: req.URL.Hostname(),
		panel:  panelForAction(action),
		mac:    strings.HasSuffix(req.URL.Path, "portal.php"),
		query:  query,
	}, true
}

// cacheKey derives the catalog cache key of this request, when it has one.
// Live content is never cached.
func (r apiRequest) cacheKey() (cache.Key, bool) {
	if mt, ok := mediaTypeParam(r.query.Get("type")); ok {
		return cache.Key{Server: r.server, Type: mt}, true
	}
	if mt, ok := r.panel.mediaType(); ok {
		return cache.Key{Server: r.server, Type: mt}, true
	}
	return cache.Key{}, false
}

// SyntheticCategory tracks the injected all-category of one panel: its
// localized name and the id chosen on the latest categories response.
type SyntheticCategory struct {
	Name string
	id   atomic.Pointer[string]
}

func NewSyntheticCategory(name string) *SyntheticCategory {
	return &SyntheticCategory{Name: name}
}

// SetID records the id chosen for the latest categories response.
func (c *SyntheticCategory) SetID(id string) {
	c.id.Store(&id)
}

// ID returns the last chosen id, or "" when no categories response has
// been seen yet.
func (c *SyntheticCategory) ID() string {
	if p := c.id.Load(); p != nil {
		return *p
	}
	return ""
}
