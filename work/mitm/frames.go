package mitm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"sfvip-launcher/work/addon"
	"sfvip-launcher/work/cache"
)

// The supervisor and the engine child talk over the child's stdin/stdout in
// length-prefixed JSON frames: a little-endian uint32 payload length, then
// the payload. Closing stdin is the shutdown sentinel.

const maxFrameSize = 16 << 20

type frameKind string

const (
	frameConfig     frameKind = "config"
	frameStarted    frameKind = "started"
	frameProgress   frameKind = "progress"
	frameEPGStatus  frameKind = "epg_status"
	frameEPGURL     frameKind = "epg_url"
	frameConfidence frameKind = "confidence"
	frameStopBuilds frameKind = "stop_builds"
	frameStop       frameKind = "stop"
)

// EngineConfig is the first frame sent to a freshly spawned engine.
type EngineConfig struct {
	Bindings       []Binding           `json:"bindings"`
	CADir          string              `json:"ca_dir"`
	CacheDir       string              `json:"cache_dir"`
	EPGCacheDir    string              `json:"epg_cache_dir"`
	CacheCleanDays int                 `json:"cache_clean_days"`
	EPGCleanDays   int                 `json:"epg_clean_days"`
	EPGConfidence  int                 `json:"epg_confidence"`
	EPGURL         string              `json:"epg_url"`
	EPGTimeout     time.Duration       `json:"epg_timeout"`
	Marker         string              `json:"marker"`
	Names          addon.CategoryNames `json:"names"`
	LogPath        string              `json:"log_path"`
	JournalPath    string              `json:"journal_path"`
	StatusPort     int                 `json:"status_port"`
	AdminHash      string              `json:"admin_hash"`
	ObfuscateUrls  bool                `json:"obfuscate_urls"`
}

type startedInfo struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

type frame struct {
	Kind       frameKind       `json:"kind"`
	Config     *EngineConfig   `json:"config,omitempty"`
	Started    *startedInfo    `json:"started,omitempty"`
	Progress   *cache.Progress `json:"progress,omitempty"`
	EPGStatus  string          `json:"epg_status,omitempty"`
	URL        string          `json:"url,omitempty"`
	Confidence int             `json:"confidence,omitempty"`
}

func writeFrame(w io.Writer, f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return frame{}, err
	}
	size := binary.LittleEndian.Uint32(length[:])
	if size > maxFrameSize {
		return frame{}, fmt.Errorf("mitm: frame of %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return frame{}, err
	}
	return f, nil
}
