package epg

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// XMLTV document shapes. Only the parts the lookup needs are declared.

type xmltvTV struct {
	XMLName    xml.Name         `xml:"tv"`
	Channels   []xmltvChannel   `xml:"channel"`
	Programmes []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   string `xml:"title"`
	Desc    string `xml:"desc"`
}

// programme is a normalized listing retained per channel.
type programme struct {
	Title       string
	Description string
	Start       time.Time
	Stop        time.Time
}

// parseXMLTV decodes an XMLTV document into per-channel programme lists and
// the id set. Programmes referencing unknown channels are kept; some feeds
// omit the <channel> block entirely.
func parseXMLTV(r io.Reader) (map[string][]programme, []string, error) {
	var doc xmltvTV
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("epg: xmltv decode: %w", err)
	}

	byChannel := make(map[string][]programme)
	for _, p := range doc.Programmes {
		start, err := parseXMLTVTime(p.Start)
		if err != nil {
			continue
		}
		stop, err := parseXMLTVTime(p.Stop)
		if err != nil {
			continue
		}
		byChannel[p.Channel] = append(byChannel[p.Channel], programme{
			Title:       strings.TrimSpace(p.Title),
			Description: strings.TrimSpace(p.Desc),
			Start:       start,
			Stop:        stop,
		})
	}

	ids := make([]string, 0, len(doc.Channels))
	seen := make(map[string]struct{}, len(doc.Channels))
	for _, c := range doc.Channels {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	// channels only referenced by programmes still need an identity
	for id := range byChannel {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return byChannel, ids, nil
}

// parseXMLTVTime accepts the usual XMLTV stamps: "20060102150405 -0700",
// the same without zone, and truncated date-only forms.
func parseXMLTVTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{
		"20060102150405 -0700",
		"20060102150405",
		"200601021504 -0700",
		"200601021504",
		"20060102",
	} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("epg: bad xmltv time %q", value)
}
