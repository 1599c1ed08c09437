package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/tinylib/msgp/msgp"
)

// A persisted snapshot is the MessagePack encoding of Encoded as three nested maps, optionally compressed with zstd.
// Keys are written in sorted order so identical inputs persist to identical bytes.

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Msgsize implements msgp.Sizer
func (e Encoded) Msgsize() int {
	n := msgp.MapHeaderSize
	for enc, types := range e {
		n += msgp.StringPrefixSize + len(enc) + msgp.MapHeaderSize
		for typ, routes := range types {
			n += msgp.StringPrefixSize + len(typ) + msgp.MapHeaderSize
			for route, payload := range routes {
				n += msgp.StringPrefixSize + len(route) + msgp.StringPrefixSize + len(payload)
			}
		}
	}
	return n
}

// MarshalMsg implements msgp.Marshaler
func (e Encoded) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, uint32(len(e)))
	for _, enc := range sorted(e) {
		types := e[enc]
		b = msgp.AppendString(b, string(enc))
		b = msgp.AppendMapHeader(b, uint32(len(types)))
		for _, typ := range sorted(types) {
			routes := types[typ]
			b = msgp.AppendString(b, typ)
			b = msgp.AppendMapHeader(b, uint32(len(routes)))
			for _, route := range sorted(routes) {
				b = msgp.AppendString(b, route)
				b = msgp.AppendString(b, routes[route])
			}
		}
	}
	return b, nil
}

// UnmarshalMsg implements msgp.Unmarshaler
func (e *Encoded) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	ret := make(Encoded, n)
	for ; n > 0; n-- {
		var enc string
		enc, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, err
		}
		var nt uint32
		nt, b, err = msgp.ReadMapHeaderBytes(b)
		if err != nil {
			return b, err
		}
		types := make(map[string]map[string]string, nt)
		for ; nt > 0; nt-- {
			var typ string
			typ, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return b, err
			}
			var nr uint32
			nr, b, err = msgp.ReadMapHeaderBytes(b)
			if err != nil {
				return b, err
			}
			routes := make(map[string]string, nr)
			for ; nr > 0; nr-- {
				var route, payload string
				route, b, err = msgp.ReadStringBytes(b)
				if err != nil {
					return b, err
				}
				payload, b, err = msgp.ReadStringBytes(b)
				if err != nil {
					return b, err
				}
				routes[route] = payload
			}
			types[typ] = routes
		}
		ret[Encoding(enc)] = types
	}
	*e = ret
	return b, nil
}

// Write persists e to w, compressing it with zstd if compress is set.
func Write(w io.Writer, e Encoded, compress bool) error {
	bin, err := e.MarshalMsg(make([]byte, 0, e.Msgsize()))
	if err != nil {
		return err
	}
	if !compress {
		_, err = w.Write(bin)
		return err
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return err
	}
	_, err = zw.Write(bin)
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// Load reads a snapshot persisted by Write, detecting compression.  Empty data is an empty snapshot.
func Load(data []byte) (Encoded, error) {
	if len(data) == 0 {
		return Encoded{}, nil
	}
	if bytes.HasPrefix(data, zstdMagic) {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		data, err = zr.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf(`%w while decompressing snapshot`, err)
		}
	}
	var e Encoded
	rest, err := e.UnmarshalMsg(data)
	if err != nil {
		return nil, fmt.Errorf(`%w while decoding snapshot`, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf(`%d trailing bytes after snapshot`, len(rest))
	}
	return e, nil
}

func sorted[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
