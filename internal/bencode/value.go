package bencode

// RawMessage holds an already-bencoded value verbatim, the way
// bencode.RawMessage is used in the teacher's metainfo.MetaInfo.RawInfo to
// keep the exact bytes of the "info" dictionary around for SHA-1 hashing
// (testable property #3: SHA1(raw_info) == infohash). Decoding into a
// *RawMessage re-encodes the decoded value; since decoded dictionaries keep
// their wire key order, the result equals the source span byte for byte.
// Encoding a RawMessage copies its bytes verbatim.
type RawMessage []byte

// Dict is a decoded bencoded dictionary. It preserves the order keys were
// seen on the wire (always ascending byte order for anything produced by
// this package, but a decoded third-party message is preserved as received
// so round-tripping a canonical input reproduces it byte for byte).
type Dict struct {
	keys   []string
	values map[string]interface{}
}

// NewDict returns an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]interface{})}
}

// Set inserts or overwrites a key. Keys already present keep their original
// position; new keys are inserted in byte-wise sorted position so that
// encoding is always canonical (spec §4.B: "keys out of order on encode are
// forbidden" — enforced here by construction instead of by rejecting bad
// input at encode time).
func (d *Dict) Set(key string, value interface{}) {
	if _, ok := d.values[key]; !ok {
		i := 0
		for ; i < len(d.keys); i++ {
			if d.keys[i] > key {
				break
			}
		}
		d.keys = append(d.keys, "")
		copy(d.keys[i+1:], d.keys[i:])
		d.keys[i] = key
	}
	d.values[key] = value
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in the order they will be encoded (byte-wise
// ascending for a Dict built with Set, wire order for a decoded one).
func (d *Dict) Keys() []string {
	return d.keys
}

// Len reports the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}
