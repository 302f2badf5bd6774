package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"time"
)

// record 是落盘格式，key 与快照一起保存，便于 Keys 反查。
type record struct {
	Key      RequestKey
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

func encodeRecord(key RequestKey, snap *Snapshot) ([]byte, error) {
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	rec := record{
		Key:      key,
		Status:   snap.Status,
		Header:   snap.Header,
		Body:     snap.Body,
		StoredAt: storedAt,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (record, error) {
	var rec record
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec)
	return rec, err
}

func (r record) snapshot() *Snapshot {
	header := r.Header
	if header == nil {
		header = http.Header{}
	}
	return &Snapshot{
		Status:   r.Status,
		Header:   header,
		Body:     r.Body,
		StoredAt: r.StoredAt,
	}
}
