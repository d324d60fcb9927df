package cache

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/terrycain/tiles-server/pkg/s"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOptions.EncMode(); err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEntry(entry s.CacheEntry) ([]byte, error) {
	return encMode.Marshal(entry)
}

func decodeEntry(data []byte) (s.CacheEntry, error) {
	var entry s.CacheEntry
	err := decMode.Unmarshal(data, &entry)
	return entry, err
}
