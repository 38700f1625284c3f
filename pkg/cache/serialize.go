package cache

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrEntryCorrupt marks a stored payload that cannot be decoded: truncated
// envelope, unknown codec tag, or a body that fails decompression. Callers
// treat it as a cache miss, never as a fatal error.
var ErrEntryCorrupt = errors.New("cache entry corrupt")

// envelopeVersion is bumped when the envelope layout changes incompatibly.
const envelopeVersion = 1

// envelope is the msgpack wire form of an Entry. The body is stored
// compressed; Codec records which codec was used so decoding never depends
// on the currently configured one.
type envelope struct {
	Version  int         `msgpack:"ver"`
	Status   int         `msgpack:"status"`
	Headers  [][2]string `msgpack:"headers"`
	Codec    string      `msgpack:"codec"`
	Body     []byte      `msgpack:"body"`
	StoredAt int64       `msgpack:"stored_at"`
	TTL      int64       `msgpack:"ttl"`
	SWR      int64       `msgpack:"swr"`
	MaxStale int64       `msgpack:"max_stale"`
	RawSize  int         `msgpack:"raw_size"`
}

// Encode serializes an entry, compressing the body with the entry's codec.
func Encode(e *Entry) ([]byte, error) {
	body, err := e.Codec.Compress(e.Body)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	env := envelope{
		Version:  envelopeVersion,
		Status:   e.StatusCode,
		Headers:  headerPairs(e.Header),
		Codec:    string(e.Codec),
		Body:     body,
		StoredAt: e.StoredAt.UnixNano(),
		TTL:      int64(e.TTL),
		SWR:      int64(e.StaleWhileRevalidate),
		MaxStale: int64(e.MaxStale),
		RawSize:  len(e.Body),
	}

	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return data, nil
}

// Decode deserializes a stored payload back into an Entry. The body is
// decompressed with the codec recorded in the envelope. Any failure is
// reported as ErrEntryCorrupt.
func Decode(data []byte) (*Entry, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal envelope: %v", ErrEntryCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrEntryCorrupt, env.Version)
	}

	codec, err := ParseCodec(env.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryCorrupt, err)
	}
	body, err := codec.Decompress(env.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryCorrupt, err)
	}

	return &Entry{
		StatusCode:           env.Status,
		Header:               pairsToHeader(env.Headers),
		Body:                 body,
		StoredAt:             time.Unix(0, env.StoredAt),
		TTL:                  time.Duration(env.TTL),
		StaleWhileRevalidate: time.Duration(env.SWR),
		MaxStale:             time.Duration(env.MaxStale),
		Codec:                codec,
		RawSize:              env.RawSize,
	}, nil
}

// headerPairs flattens headers into an ordered [name, value] list, sorted
// by canonical name with per-name value order preserved, so encoding is
// deterministic.
func headerPairs(h http.Header) [][2]string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]string, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			pairs = append(pairs, [2]string{name, v})
		}
	}
	return pairs
}

func pairsToHeader(pairs [][2]string) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p[0], p[1])
	}
	return h
}
