package addon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sfvip-launcher/work/epg"
)

// serveCachedAll answers a cached-all catalog query straight from the cache,
// stamping the marker header so the save path ignores the synthetic flow.
func (a *Addon) serveCachedAll(flow *Flow, api apiRequest) {
	if api.query.Get("category") != CachedAllID {
		return
	}
	key, ok := api.cacheKey()
	if !ok {
		return
	}
	blob, hit := a.cache.Hit(key)
	if !hit {
		return
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(a.marker, "1")
	flow.Serve(&Response{StatusCode: http.StatusOK, Header: header, Body: blob})
}

// stripSyntheticCategory turns a query for the injected all-category into a
// category-less query, which the upstream answers with the whole catalog.
func (a *Addon) stripSyntheticCategory(flow *Flow, api apiRequest) {
	id := a.categories[api.panel].ID()
	if id == "" || api.query.Get("category_id") != id {
		return
	}
	query := flow.Request.URL.Query()
	query.Del("category_id")
	flow.Request.URL.RawQuery = query.Encode()
}

// fixSeriesEpisodes rewrites a list-shaped episodes field into a mapping
// keyed by season number, the shape the player expects.
func (a *Addon) fixSeriesEpisodes(flow *Flow) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(flow.Response.Body, &obj); err != nil {
		return
	}
	raw, ok := obj["episodes"]
	if !ok {
		return
	}
	var seasons [][]json.RawMessage
	if err := json.Unmarshal(raw, &seasons); err != nil {
		return
	}
	bySeason := make(map[string]json.RawMessage, len(seasons))
	for _, episodes := range seasons {
		if len(episodes) == 0 {
			return
		}
		var first struct {
			Season json.RawMessage `json:"season"`
		}
		if err := json.Unmarshal(episodes[0], &first); err != nil {
			return
		}
		season := jsonScalarString(first.Season)
		if season == "" {
			return
		}
		encoded, err := json.Marshal(episodes)
		if err != nil {
			return
		}
		bySeason[season] = encoded
	}
	fixed, err := json.Marshal(bySeason)
	if err != nil {
		return
	}
	obj["episodes"] = fixed
	if body, err := json.Marshal(obj); err == nil {
		flow.Response.Body = body
	}
}

// answerShortEPG replaces the upstream short-EPG body with programmes from
// the XMLTV index, when the channel matches with enough confidence.
func (a *Addon) answerShortEPG(flow *Flow, api apiRequest) {
	streamID := api.query.Get("stream_id")
	if streamID == "" {
		return
	}
	limit := 0
	if raw := api.query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	variant := epg.XC
	format := epg.FormatXC
	if api.mac {
		variant = epg.MAC
		format = epg.FormatMAC
	}
	listings := a.epg.Get(api.server, streamID, limit, variant)
	if listings == nil {
		return
	}
	if body, err := json.Marshal(format(listings)); err == nil {
		flow.Response.Body = body
	}
}

// ingestOrderedPage feeds one whole-catalog page into the cache build,
// unless the response was itself served from the cache.
func (a *Addon) ingestOrderedPage(flow *Flow, api apiRequest) {
	if flow.Response.Header.Get(a.marker) != "" {
		return
	}
	if api.query.Get("category") != allCategoryID {
		return
	}
	page, err := strconv.Atoi(api.query.Get("p"))
	if err != nil || page < 1 {
		return
	}
	key, ok := api.cacheKey()
	if !ok {
		return
	}
	a.cache.IngestPage(key, page, flow.Response.Body)
}

// insertCachedCategory loads the server's cache files and, when one is
// valid, advertises it as an extra category right after the portal's own
// whole-catalog entry.
func (a *Addon) insertCachedCategory(flow *Flow, api apiRequest) {
	a.cache.LoadForServer(api.server)
	key, ok := api.cacheKey()
	if !ok {
		return
	}
	entry, ok := a.cache.Loaded(key)
	if !ok {
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(flow.Response.Body, &obj); err != nil {
		return
	}
	var list []json.RawMessage
	if err := json.Unmarshal(obj["js"], &list); err != nil {
		return
	}

	title := fmt.Sprintf("%s (%s)", a.names.Cached, entry.Age(time.Now()))
	if missing := entry.MissingFraction(); missing > 0 {
		title += fmt.Sprintf(" %d%%", int(100*(1-missing)))
	}
	synthetic, err := json.Marshal(struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Alias string `json:"alias"`
	}{ID: CachedAllID, Title: title, Alias: CachedAllID})
	if err != nil {
		return
	}

	at := 0
	for i, elem := range list {
		var probe struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(elem, &probe) == nil && jsonScalarString(probe.ID) == allCategoryID {
			at = i + 1
			break
		}
	}
	list = append(list[:at], append([]json.RawMessage{synthetic}, list[at:]...)...)

	fixed, err := json.Marshal(list)
	if err != nil {
		return
	}
	obj["js"] = fixed
	if body, err := json.Marshal(obj); err == nil {
		flow.Response.Body = body
	}
}

// injectAllCategory prepends the synthetic all-category to an Xtream
// categories list, choosing an id one past the largest numeric id present.
func (a *Addon) injectAllCategory(flow *Flow, api apiRequest) {
	var list []json.RawMessage
	if err := json.Unmarshal(flow.Response.Body, &list); err != nil {
		return
	}

	maxID, found := 0, false
	for _, elem := range list {
		var probe struct {
			CategoryID json.RawMessage `json:"category_id"`
		}
		if json.Unmarshal(elem, &probe) != nil {
			continue
		}
		if n, err := strconv.Atoi(jsonScalarString(probe.CategoryID)); err == nil {
			if !found || n > maxID {
				maxID, found = n, true
			}
		}
	}
	newID := "0"
	if found {
		newID = strconv.Itoa(maxID + 1)
	}

	synthetic, err := json.Marshal(struct {
		CategoryID   string `json:"category_id"`
		CategoryName string `json:"category_name"`
		ParentID     int    `json:"parent_id"`
	}{CategoryID: newID, CategoryName: a.categories[api.panel].Name, ParentID: 0})
	if err != nil {
		return
	}

	body, err := json.Marshal(append([]json.RawMessage{synthetic}, list...))
	if err != nil {
		return
	}
	a.categories[api.panel].SetID(newID)
	flow.Response.Body = body
}

// jsonScalarString renders a JSON string or number as its plain text.
func jsonScalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
