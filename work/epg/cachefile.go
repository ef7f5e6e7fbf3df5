package epg

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/mutex"
	"sfvip-launcher/work/utils"
)

// A parsed XMLTV source is cached as a pair of files named after the source
// URL: the .epg index and the .prg programme blobs. The index records the
// MD5 of the raw XML and, per channel, where in the .prg file its gob-encoded
// programme list sits. A digest mismatch means the upstream changed and the
// pair is rewritten.

const (
	indexSuffix = ".epg"
	blobSuffix  = ".prg"
)

// FilePosition locates one channel's programme blob inside the .prg file.
type FilePosition struct {
	Seek   int64
	Length int64
}

type cacheIndex struct {
	Digest    string                    `json:"digest"`
	Channels  []string                  `json:"channels"`
	Positions map[string][]FilePosition `json:"positions"`
}

func (s *Store) cachePath(rawURL, suffix string) string {
	return filepath.Join(s.cacheDir, utils.SanitizeURLStem(rawURL)+suffix)
}

// loadCache returns the cached parse when the stored digest matches.
// Any decode failure or out-of-bounds position reads as a miss.
func (s *Store) loadCache(rawURL, digest string) (byChannel map[string][]programme, ids []string, ok bool) {
	indexPath := s.cachePath(rawURL, indexSuffix)
	blobPath := s.cachePath(rawURL, blobSuffix)

	err := mutex.ForPath(indexPath).With(time.Second, func() error {
		raw, err := os.ReadFile(indexPath)
		if err != nil {
			return err
		}
		var idx cacheIndex
		if err := json.Unmarshal(raw, &idx); err != nil {
			return err
		}
		if idx.Digest != digest {
			return fmt.Errorf("epg: digest changed")
		}
		blob, err := os.ReadFile(blobPath)
		if err != nil {
			return err
		}
		loaded := make(map[string][]programme, len(idx.Positions))
		for channel, positions := range idx.Positions {
			for _, pos := range positions {
				if pos.Seek < 0 || pos.Length < 0 || pos.Seek+pos.Length > int64(len(blob)) {
					return fmt.Errorf("epg: position out of bounds")
				}
				var programmes []programme
				dec := gob.NewDecoder(bytes.NewReader(blob[pos.Seek : pos.Seek+pos.Length]))
				if err := dec.Decode(&programmes); err != nil {
					return err
				}
				loaded[channel] = append(loaded[channel], programmes...)
			}
		}
		byChannel, ids, ok = loaded, idx.Channels, true
		return nil
	})
	if err != nil {
		return nil, nil, false
	}
	return byChannel, ids, ok
}

// saveCache writes the .prg blobs then the .epg index, so a crash between
// the two leaves a digest that can never validate a half-written pair.
func (s *Store) saveCache(rawURL, digest string, byChannel map[string][]programme, ids []string) error {
	indexPath := s.cachePath(rawURL, indexSuffix)
	blobPath := s.cachePath(rawURL, blobSuffix)

	return mutex.ForPath(indexPath).With(time.Second, func() error {
		var blob bytes.Buffer
		positions := make(map[string][]FilePosition, len(byChannel))
		for channel, programmes := range byChannel {
			start := int64(blob.Len())
			enc := gob.NewEncoder(&blob)
			if err := enc.Encode(programmes); err != nil {
				return fmt.Errorf("epg: encode %s: %w", channel, err)
			}
			positions[channel] = []FilePosition{{Seek: start, Length: int64(blob.Len()) - start}}
		}
		if err := os.WriteFile(blobPath, blob.Bytes(), 0o644); err != nil {
			return err
		}
		raw, err := json.Marshal(cacheIndex{Digest: digest, Channels: ids, Positions: positions})
		if err != nil {
			return err
		}
		return os.WriteFile(indexPath, raw, 0o644)
	})
}

// evict removes cache pairs not accessed for cleanDays days.
func (s *Store) evict() {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return
	}
	deadline := time.Now().AddDate(0, 0, -s.cleanDays)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, indexSuffix) && !strings.HasSuffix(name, blobSuffix) {
			continue
		}
		path := filepath.Join(s.cacheDir, name)
		atime, err := utils.FileAtime(path)
		if err != nil || atime.After(deadline) {
			continue
		}
		if err := os.Remove(path); err == nil {
			logger.Info("epg: evicted %s", name)
		}
	}
}
