package epg

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"sfvip-launcher/work/metrics"
)

// Variant selects the wire shape of the programme listings.
type Variant int

const (
	// XC renders titles and descriptions base64-encoded, the way Xtream
	// Codes portals do.
	XC Variant = iota
	// MAC renders plain text and adds a duration in seconds.
	MAC
)

// Listing is one programme entry ready for serialization.
type Listing struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
	StartTS     int64  `json:"start_timestamp"`
	StopTS      int64  `json:"stop_timestamp"`
	Duration    int64  `json:"duration,omitempty"`
}

const wireTimeLayout = "2006-01-02 15:04:05"

// Get returns up to limit programmes for one portal stream, or nil when the
// stream cannot be matched to an XMLTV channel with enough confidence.
// Programmes already over (stop before now) are skipped.
func (s *Store) Get(server, streamID string, limit int, variant Variant) []Listing {
	current := s.current.Load()
	if current == nil {
		metrics.EPGLookups.WithLabelValues("no_index").Inc()
		return nil
	}
	channels, ok := s.servers.Load(server)
	if !ok {
		metrics.EPGLookups.WithLabelValues("no_server").Inc()
		return nil
	}
	wanted, ok := channels.byStream[streamID]
	if !ok {
		metrics.EPGLookups.WithLabelValues("no_stream").Inc()
		return nil
	}

	channelID, confidence := current.match(Normalize(wanted))
	if channelID == "" || confidence < s.Confidence() {
		metrics.EPGLookups.WithLabelValues("below_confidence").Inc()
		return nil
	}

	now := time.Now()
	var listings []Listing
	for _, p := range current.programmes[channelID] {
		if p.Stop.Before(now) {
			continue
		}
		listings = append(listings, makeListing(p, variant))
		if limit > 0 && len(listings) >= limit {
			break
		}
	}
	if listings == nil {
		metrics.EPGLookups.WithLabelValues("empty").Inc()
		return nil
	}
	metrics.EPGLookups.WithLabelValues("hit").Inc()
	return listings
}

func makeListing(p programme, variant Variant) Listing {
	listing := Listing{
		Start:   p.Start.Format(wireTimeLayout),
		End:     p.Stop.Format(wireTimeLayout),
		StartTS: p.Start.Unix(),
		StopTS:  p.Stop.Unix(),
	}
	switch variant {
	case XC:
		listing.Title = base64.StdEncoding.EncodeToString([]byte(p.Title))
		listing.Description = base64.StdEncoding.EncodeToString([]byte(p.Description))
	case MAC:
		listing.Title = p.Title
		listing.Description = p.Description
		listing.Duration = p.Stop.Unix() - p.Start.Unix()
	}
	return listing
}

// match finds the XMLTV channel whose normalized id best matches the
// normalized portal channel name. An exact hit scores 100; otherwise the
// best containment score wins, so raising the confidence only ever shrinks
// the set of accepted matches.
func (idx *index) match(normalized string) (string, int) {
	if normalized == "" {
		return "", 0
	}
	if id, ok := idx.normalized[normalized]; ok {
		return id, 100
	}
	bestID, bestScore := "", 0
	for candidate, id := range idx.normalized {
		score := containmentScore(normalized, candidate)
		if score > bestScore {
			bestID, bestScore = id, score
		}
	}
	return bestID, bestScore
}

// containmentScore rates how well one normalized id contains the other:
// 100 * len(shorter) / len(longer) when one is a substring of the other,
// 0 otherwise.
func containmentScore(a, b string) int {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(longer) == 0 || !strings.Contains(longer, shorter) {
		return 0
	}
	return 100 * len(shorter) / len(longer)
}

// FormatXC wraps listings in the get_short_epg envelope.
func FormatXC(listings []Listing) map[string]any {
	entries := make([]map[string]any, 0, len(listings))
	for i, l := range listings {
		entries = append(entries, map[string]any{
			"id":              strconv.Itoa(i + 1),
			"title":           l.Title,
			"description":     l.Description,
			"start":           l.Start,
			"end":             l.End,
			"start_timestamp": strconv.FormatInt(l.StartTS, 10),
			"stop_timestamp":  strconv.FormatInt(l.StopTS, 10),
		})
	}
	return map[string]any{"epg_listings": entries}
}

// FormatMAC wraps listings in the same envelope with plain-text titles and
// the programme duration in seconds on every entry.
func FormatMAC(listings []Listing) map[string]any {
	entries := make([]map[string]any, 0, len(listings))
	for i, l := range listings {
		entries = append(entries, map[string]any{
			"id":              strconv.Itoa(i + 1),
			"title":           l.Title,
			"description":     l.Description,
			"start":           l.Start,
			"end":             l.End,
			"start_timestamp": strconv.FormatInt(l.StartTS, 10),
			"stop_timestamp":  strconv.FormatInt(l.StopTS, 10),
			"duration":        l.Duration,
		})
	}
	return map[string]any{"epg_listings": entries}
}
