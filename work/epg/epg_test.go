package epg

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfvip-launcher/work/jobs"
)

func newTestStore(t *testing.T, confidence int) *Store {
	t.Helper()
	group, err := jobs.NewGroup(2)
	require.NoError(t, err)
	t.Cleanup(group.Close)
	return NewStore(group, t.TempDir(), 15, confidence, 5*time.Second)
}

func TestNormalize(t *testing.T) {
	for input, want := range map[string]string{
		"CNN International":  "cnninternational",
		"Canal+ HD":          "canalplushd",
		"BBC One (UK)":       "bbconeuk",
		"Télé 5":             "tele5",
		"a.b-c/d [e] {f}: g": "abcdefg",
		"":                   "",
	} {
		assert.Equal(t, want, Normalize(input), input)
	}
}

func TestContainmentScore(t *testing.T) {
	assert.Equal(t, 100, containmentScore("cnn", "cnn"))
	assert.Equal(t, 50, containmentScore("cnn", "cnnint"))
	assert.Equal(t, 50, containmentScore("cnnint", "cnn"))
	assert.Equal(t, 0, containmentScore("cnn", "bbcone"))
	assert.Equal(t, 0, containmentScore("", ""))
}

func TestMatchPrefersExact(t *testing.T) {
	idx := &index{normalized: map[string]string{
		"cnn":    "CNN.us",
		"cnnint": "CNN.int",
	}}
	id, score := idx.match("cnn")
	assert.Equal(t, "CNN.us", id)
	assert.Equal(t, 100, score)
}

func futureProgrammes(titles ...string) []programme {
	start := time.Now().Add(time.Hour)
	var out []programme
	for i, title := range titles {
		out = append(out, programme{
			Title:       title,
			Description: "about " + title,
			Start:       start.Add(time.Duration(i) * time.Hour),
			Stop:        start.Add(time.Duration(i+1) * time.Hour),
		})
	}
	return out
}

func seedStore(s *Store) {
	s.current.Store(&index{
		url:        "http://guide.example.com/guide.xml",
		normalized: map[string]string{"cnninternationalhd": "CNN.int"},
		programmes: map[string][]programme{"CNN.int": futureProgrammes("News", "Weather")},
	})
	s.servers.Store("portal.example.com", &serverChannels{
		byStream: map[string]string{"42": "CNN International"},
	})
}

func TestHigherConfidenceOnlyShrinksResults(t *testing.T) {
	store := newTestStore(t, 0)
	seedStore(store)

	// "cnninternational" inside "cnninternationalhd" scores 100*16/18 = 88
	previousHit := true
	for confidence := 0; confidence <= 100; confidence++ {
		store.SetConfidence(confidence)
		hit := store.Get("portal.example.com", "42", 0, XC) != nil
		if hit {
			require.True(t, previousHit, "confidence %d matched after a lower one missed", confidence)
		}
		previousHit = hit
	}

	store.SetConfidence(88)
	assert.NotNil(t, store.Get("portal.example.com", "42", 0, XC))
	store.SetConfidence(89)
	assert.Nil(t, store.Get("portal.example.com", "42", 0, XC))
}

func TestExactMatchAtFullConfidence(t *testing.T) {
	store := newTestStore(t, 100)
	store.current.Store(&index{
		normalized: map[string]string{"cnn": "CNN.us"},
		programmes: map[string][]programme{"CNN.us": futureProgrammes("News")},
	})
	store.servers.Store("portal.example.com", &serverChannels{
		byStream: map[string]string{"7": "CNN"},
	})
	assert.NotNil(t, store.Get("portal.example.com", "7", 0, XC))
}

func TestGetVariants(t *testing.T) {
	store := newTestStore(t, 50)
	seedStore(store)

	xc := store.Get("portal.example.com", "42", 1, XC)
	require.Len(t, xc, 1)
	title, err := base64.StdEncoding.DecodeString(xc[0].Title)
	require.NoError(t, err)
	assert.Equal(t, "News", string(title))
	assert.Zero(t, xc[0].Duration)

	mac := store.Get("portal.example.com", "42", 1, MAC)
	require.Len(t, mac, 1)
	assert.Equal(t, "News", mac[0].Title)
	assert.Equal(t, int64(3600), mac[0].Duration)
}

func TestGetHonorsLimit(t *testing.T) {
	store := newTestStore(t, 50)
	seedStore(store)
	assert.Len(t, store.Get("portal.example.com", "42", 1, XC), 1)
	assert.Len(t, store.Get("portal.example.com", "42", 0, XC), 2)
}

func TestGetSkipsFinishedProgrammes(t *testing.T) {
	store := newTestStore(t, 50)
	seedStore(store)
	idx := store.current.Load()
	idx.programmes["CNN.int"] = append([]programme{{
		Title: "Over",
		Start: time.Now().Add(-2 * time.Hour),
		Stop:  time.Now().Add(-time.Hour),
	}}, idx.programmes["CNN.int"]...)

	listings := store.Get("portal.example.com", "42", 0, MAC)
	require.Len(t, listings, 2)
	assert.Equal(t, "News", listings[0].Title)
}

func TestGetMisses(t *testing.T) {
	store := newTestStore(t, 50)
	assert.Nil(t, store.Get("portal.example.com", "42", 0, XC), "no index")

	seedStore(store)
	assert.Nil(t, store.Get("unknown.example.com", "42", 0, XC), "unknown server")
	assert.Nil(t, store.Get("portal.example.com", "999", 0, XC), "unknown stream")
}

func TestFormatXC(t *testing.T) {
	envelope := FormatXC([]Listing{{
		Title:   "dGl0bGU=",
		Start:   "2026-08-29 20:00:00",
		End:     "2026-08-29 21:00:00",
		StartTS: 1788033600,
		StopTS:  1788037200,
	}})
	entries, ok := envelope["epg_listings"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0]["id"])
	assert.Equal(t, "1788033600", entries[0]["start_timestamp"])
	assert.Equal(t, "1788037200", entries[0]["stop_timestamp"])
	assert.NotContains(t, entries[0], "duration")
}

func TestFormatMAC(t *testing.T) {
	envelope := FormatMAC([]Listing{{
		Title:    "title",
		Start:    "2026-08-29 20:00:00",
		End:      "2026-08-29 21:00:00",
		StartTS:  1788033600,
		StopTS:   1788037200,
		Duration: 3600,
	}})
	entries, ok := envelope["epg_listings"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "title", entries[0]["title"])
	assert.Equal(t, int64(3600), entries[0]["duration"])
}

func TestParseXMLTVTime(t *testing.T) {
	local := func(value string, layout string) time.Time {
		parsed, err := time.ParseInLocation(layout, value, time.Local)
		require.NoError(t, err)
		return parsed
	}
	for value, want := range map[string]time.Time{
		"20260829200000 +0200": time.Date(2026, 8, 29, 20, 0, 0, 0, time.FixedZone("", 2*3600)),
		"20260829200000":       local("20260829200000", "20060102150405"),
		"202608292000":         local("202608292000", "200601021504"),
		"20260829":             local("20260829", "20060102"),
	} {
		parsed, err := parseXMLTVTime(value)
		require.NoError(t, err, value)
		assert.True(t, want.Equal(parsed), value)
	}
	_, err := parseXMLTVTime("yesterday")
	assert.Error(t, err)
}

const testXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="CNN.int">
    <display-name>CNN International</display-name>
  </channel>
  <programme start="20360829200000 +0000" stop="20360829210000 +0000" channel="CNN.int">
    <title>News</title>
    <desc>The news.</desc>
  </programme>
  <programme start="20360829200000 +0000" stop="20360829210000 +0000" channel="Orphan.tv">
    <title>Orphan Show</title>
  </programme>
  <programme start="bogus" stop="20360829210000 +0000" channel="CNN.int">
    <title>Dropped</title>
  </programme>
</tv>`

func TestParseXMLTV(t *testing.T) {
	byChannel, ids, err := parseXMLTV(strings.NewReader(testXMLTV))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CNN.int", "Orphan.tv"}, ids)
	require.Len(t, byChannel["CNN.int"], 1)
	assert.Equal(t, "News", byChannel["CNN.int"][0].Title)
	assert.Equal(t, "The news.", byChannel["CNN.int"][0].Description)
	require.Len(t, byChannel["Orphan.tv"], 1)
}

func TestCacheRoundTrip(t *testing.T) {
	store := newTestStore(t, 50)
	byChannel, ids, err := parseXMLTV(strings.NewReader(testXMLTV))
	require.NoError(t, err)

	url := "http://guide.example.com/guide.xml"
	require.NoError(t, store.saveCache(url, "digest-1", byChannel, ids))

	loaded, loadedIDs, ok := store.loadCache(url, "digest-1")
	require.True(t, ok)
	assert.ElementsMatch(t, ids, loadedIDs)
	require.Len(t, loaded["CNN.int"], 1)
	assert.Equal(t, "News", loaded["CNN.int"][0].Title)

	_, _, ok = store.loadCache(url, "digest-2")
	assert.False(t, ok, "digest mismatch must read as a miss")
}

func TestCacheCorruptIndexIsMiss(t *testing.T) {
	store := newTestStore(t, 50)
	url := "http://guide.example.com/guide.xml"
	require.NoError(t, os.WriteFile(store.cachePath(url, indexSuffix), []byte("junk"), 0o644))
	_, _, ok := store.loadCache(url, "digest-1")
	assert.False(t, ok)
}

func TestCacheOutOfBoundsPositionIsMiss(t *testing.T) {
	store := newTestStore(t, 50)
	url := "http://guide.example.com/guide.xml"
	index := `{"digest":"digest-1","channels":["CNN.int"],"positions":{"CNN.int":[{"Seek":0,"Length":4096}]}}`
	require.NoError(t, os.WriteFile(store.cachePath(url, indexSuffix), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(store.cachePath(url, blobSuffix), []byte("tiny"), 0o644))
	_, _, ok := store.loadCache(url, "digest-1")
	assert.False(t, ok)
}

func TestUpdateStatuses(t *testing.T) {
	store := newTestStore(t, 50)

	store.update("")
	assert.Equal(t, NO_EPG, store.Status())

	store.update("ftp://guide.example.com/guide.xml")
	assert.Equal(t, INVALID_URL, store.Status())

	store.update("not a url at all\x00")
	assert.Equal(t, INVALID_URL, store.Status())
}

func TestUpdateFetchesAndKeepsIndexOnFailure(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(testXMLTV))
	}))
	defer server.Close()

	store := newTestStore(t, 50)
	store.update(server.URL + "/guide.xml")
	require.Equal(t, READY, store.Status())
	require.NotNil(t, store.current.Load())

	store.update(server.URL + "/guide.xml?v=2")
	assert.Equal(t, FAILED, store.Status())
	assert.NotNil(t, store.current.Load(), "previous index keeps serving")
	assert.Equal(t, "CNN.int", store.current.Load().normalized[Normalize("CNN.int")])
}

func TestBuildServerChannels(t *testing.T) {
	store := newTestStore(t, 50)
	body := []byte(`[
		{"stream_id": 42, "name": "CNN International", "epg_channel_id": ""},
		{"stream_id": "43", "name": "BBC One", "epg_channel_id": "bbc.one.uk"},
		{"name": "No Id"}
	]`)
	store.BuildServerChannels("portal.example.com", body)

	require.Eventually(t, func() bool {
		_, ok := store.servers.Load("portal.example.com")
		return ok
	}, time.Second, 10*time.Millisecond)

	channels, _ := store.servers.Load("portal.example.com")
	assert.Equal(t, "CNN International", channels.byStream["42"])
	assert.Equal(t, "bbc.one.uk", channels.byStream["43"])
	assert.Len(t, channels.byStream, 2)
}
