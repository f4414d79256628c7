package bencode

import "sort"

// Value is the owning bencode tree: strings and dict keys own their bytes,
// so a Value is safe to retain past the lifetime of any decode buffer. Use
// this for constructed outbound messages and persisted state; use ValueRef
// for zero-copy parsing of inbound packets.
type Value struct {
	kind Kind
	i    int64
	s    []byte
	list []Value
	dict map[string]Value
}

func Int(n int64) Value          { return Value{kind: KindInt, i: n} }
func Bytes(b []byte) Value       { return Value{kind: KindString, s: b} }
func Str(s string) Value         { return Value{kind: KindString, s: []byte(s)} }
func List(v []Value) Value       { return Value{kind: KindList, list: v} }
func Dict(m map[string]Value) Value {
	return Value{kind: KindDict, dict: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindString {
		return nil, false
	}
	return v.s, true
}

func (v Value) AsStr() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return string(v.s), true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsDict() (map[string]Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

func (v Value) ListAt(i int) (Value, bool) {
	list, ok := v.AsList()
	if !ok || i < 0 || i >= len(list) {
		return Value{}, false
	}
	return list[i], true
}

func (v Value) DictFind(key string) (Value, bool) {
	dict, ok := v.AsDict()
	if !ok {
		return Value{}, false
	}
	child, ok := dict[key]
	return child, ok
}

func (v Value) DictFindIntValue(key string) (int64, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return 0, false
	}
	return child.AsInt()
}

func (v Value) DictFindStrValue(key string) (string, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return "", false
	}
	return child.AsStr()
}

func (v Value) DictFindBytesValue(key string) ([]byte, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return nil, false
	}
	return child.AsBytes()
}

func (v Value) DictFindList(key string) ([]Value, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return nil, false
	}
	return child.AsList()
}

func (v Value) DictFindDict(key string) (Value, bool) {
	child, ok := v.DictFind(key)
	if !ok || child.kind != KindDict {
		return Value{}, false
	}
	return child, true
}

// Equal performs deep structural comparison, used by the round-trip
// property tests (decode(encode(v)) == v).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == other.i
	case KindString:
		return string(v.s) == string(other.s)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.dict) != len(other.dict) {
			return false
		}
		for k, val := range v.dict {
			ov, ok := other.dict[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Decode parses a single bencode value from data with no depth or item
// limit, via the zero-copy ValueRef decoder, and copies it into an owning
// Value.
func Decode(data []byte) (Value, error) {
	return DecodeWithLimits(data, NoLimit, NoLimit)
}

// DecodeWithLimits is Decode with explicit depth/item limits; see
// DecodeRefWithLimits for the exact boundary semantics.
func DecodeWithLimits(data []byte, depthLimit, itemLimit int) (Value, error) {
	ref, err := DecodeRefWithLimits(data, depthLimit, itemLimit)
	if err != nil {
		return Value{}, err
	}
	return ref.ToOwned(), nil
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
