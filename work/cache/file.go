package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/mutex"
)

// On-disk record: three little-endian fields in order.
//
//	total_items  int64
//	actual_items int64
//	content      int64 length + bytes (the {"js": …} JSON, UTF-8)
//
// Concurrent writers across processes serialize on a file-scoped mutex.

const fileMutexTimeout = 2 * time.Second

func (s *Store) filePath(key Key) string {
	return filepath.Join(s.dir, key.Filename())
}

// load reads and validates the entry for key. Any failure is treated as a
// cache miss; the file is never deleted on load failure.
func (s *Store) load(key Key) (entry *Entry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("cache: load %s panicked: %v", key, r)
			entry, ok = nil, false
		}
	}()

	path := s.filePath(key)
	var data []byte
	var mtime time.Time
	err := mutex.ForPath(path).With(fileMutexTimeout, func() error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		mtime = info.ModTime()
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, false
	}

	total, actual, blob, err := decodeRecord(data)
	if err != nil {
		logger.Warn("cache: %s unreadable: %v", key, err)
		return nil, false
	}
	if actual < 0 || actual > total {
		return nil, false
	}
	var parsed content
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, false
	}
	return &Entry{
		Key:         key,
		Content:     blob,
		TotalItems:  total,
		ActualItems: actual,
		ModTime:     mtime,
	}, true
}

// persist writes the entry for key.
func (s *Store) persist(key Key, total, actual int, blob []byte) error {
	path := s.filePath(key)
	return mutex.ForPath(path).With(fileMutexTimeout, func() error {
		return os.WriteFile(path, encodeRecord(total, actual, blob), 0o644)
	})
}

func encodeRecord(total, actual int, blob []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int64(total))
	binary.Write(&buf, binary.LittleEndian, int64(actual))
	binary.Write(&buf, binary.LittleEndian, int64(len(blob)))
	buf.Write(blob)
	return buf.Bytes()
}

func decodeRecord(data []byte) (total, actual int, blob []byte, err error) {
	reader := bytes.NewReader(data)
	var total64, actual64, length int64
	if err = binary.Read(reader, binary.LittleEndian, &total64); err != nil {
		return
	}
	if err = binary.Read(reader, binary.LittleEndian, &actual64); err != nil {
		return
	}
	if err = binary.Read(reader, binary.LittleEndian, &length); err != nil {
		return
	}
	if length < 0 || length > int64(reader.Len()) {
		err = fmt.Errorf("content length %d out of bounds", length)
		return
	}
	blob = make([]byte, length)
	if _, err = reader.Read(blob); err != nil {
		return
	}
	return int(total64), int(actual64), blob, nil
}
