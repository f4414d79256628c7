package bencode

import "strconv"

// Kind tags which bencode alternative a Value/ValueRef holds.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

// DictEntryRef is one key/value pair inside a borrowing dict. Key
// references the input buffer directly and is not guaranteed to be valid
// UTF-8 (bencode dict keys are byte strings on the wire).
type DictEntryRef struct {
	Key   []byte
	Value ValueRef
}

// ValueRef is the borrowing bencode tree: strings reference slices of the
// buffer passed to Decode and must not outlive it. Use ToOwned to obtain an
// independent Value.
type ValueRef struct {
	kind Kind
	i    int64
	s    []byte
	list []ValueRef
	dict []DictEntryRef
}

func RefInt(n int64) ValueRef       { return ValueRef{kind: KindInt, i: n} }
func RefString(s []byte) ValueRef   { return ValueRef{kind: KindString, s: s} }
func RefList(v []ValueRef) ValueRef { return ValueRef{kind: KindList, list: v} }
func RefDict(d []DictEntryRef) ValueRef {
	return ValueRef{kind: KindDict, dict: d}
}

func (v ValueRef) Kind() Kind { return v.kind }

func (v ValueRef) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v ValueRef) AsBytes() ([]byte, bool) {
	if v.kind != KindString {
		return nil, false
	}
	return v.s, true
}

func (v ValueRef) AsStr() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return string(v.s), true
}

func (v ValueRef) AsList() ([]ValueRef, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v ValueRef) AsDict() ([]DictEntryRef, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

// ListAt returns the element at index i of a list value.
func (v ValueRef) ListAt(i int) (ValueRef, bool) {
	list, ok := v.AsList()
	if !ok || i < 0 || i >= len(list) {
		return ValueRef{}, false
	}
	return list[i], true
}

// DictFind looks up key in a dict value.
func (v ValueRef) DictFind(key string) (ValueRef, bool) {
	dict, ok := v.AsDict()
	if !ok {
		return ValueRef{}, false
	}
	for _, e := range dict {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return ValueRef{}, false
}

func (v ValueRef) DictFindIntValue(key string) (int64, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return 0, false
	}
	return child.AsInt()
}

func (v ValueRef) DictFindStrValue(key string) (string, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return "", false
	}
	return child.AsStr()
}

func (v ValueRef) DictFindBytesValue(key string) ([]byte, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return nil, false
	}
	return child.AsBytes()
}

func (v ValueRef) DictFindList(key string) ([]ValueRef, bool) {
	child, ok := v.DictFind(key)
	if !ok {
		return nil, false
	}
	return child.AsList()
}

func (v ValueRef) DictFindDict(key string) (ValueRef, bool) {
	child, ok := v.DictFind(key)
	if !ok || child.kind != KindDict {
		return ValueRef{}, false
	}
	return child, true
}

// ToOwned copies the borrowing tree into an independent owning Value.
func (v ValueRef) ToOwned() Value {
	switch v.kind {
	case KindInt:
		return Int(v.i)
	case KindString:
		b := make([]byte, len(v.s))
		copy(b, v.s)
		return Bytes(b)
	case KindList:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToOwned()
		}
		return List(out)
	case KindDict:
		m := make(map[string]Value, len(v.dict))
		for _, e := range v.dict {
			m[string(e.Key)] = e.Value.ToOwned()
		}
		return Dict(m)
	default:
		return Value{}
	}
}

// validIntGrammar enforces the wire grammar's int production strictly:
// -?[0-9]+ with no leading '+' and no surplus zeros (so "0" is the only
// valid representation of zero, and "-0" and "007" are both rejected).
func validIntGrammar(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	neg := b[0] == '-'
	digits := b
	if neg {
		digits = b[1:]
	}
	if len(digits) == 0 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return false
	}
	if neg && digits[0] == '0' {
		return false
	}
	return true
}

// NoLimit signals an unbounded depth or item count to DecodeRefWithLimits.
const NoLimit = -1

type containerFrame struct {
	kind  Kind
	start int // length of the value stack when this container was opened
}

// DecodeRef parses a single bencode value from data with no depth or item
// limit, failing if trailing bytes remain afterward.
func DecodeRef(data []byte) (ValueRef, error) {
	return DecodeRefWithLimits(data, NoLimit, NoLimit)
}

// DecodeRefWithLimits parses a single bencode value from data, rejecting
// inputs whose container nesting exceeds depthLimit or whose total item
// count exceeds itemLimit. Every token that isn't a closing 'e' — strings,
// ints, and list/dict opens alike — counts toward itemLimit, matching the
// reference decoder. Either limit may be NoLimit.
//
// Both limits are inclusive upper bounds measured the way the reference
// decoder measures them: depth is checked after incrementing (so a
// depthLimit of 1024 admits exactly 1024 nested containers and rejects the
// 1025th), while the item count is checked before incrementing (so an
// itemLimit of N admits the (N+1)th item and rejects the (N+2)th).
func DecodeRefWithLimits(data []byte, depthLimit, itemLimit int) (ValueRef, error) {
	pos := 0
	nextByte := func() (byte, bool) {
		if pos >= len(data) {
			return 0, false
		}
		b := data[pos]
		pos++
		return b, true
	}

	var containers []containerFrame
	var values []ValueRef
	depth := 0
	items := 0

	readUntil := func(stop byte) ([]byte, error) {
		start := pos
		for {
			b, ok := nextByte()
			if !ok {
				return nil, newError(EEOF)
			}
			if b == stop {
				return data[start : pos-1], nil
			}
		}
	}

	countItem := func() error {
		if itemLimit != NoLimit && items > itemLimit {
			return newError(EItemLimit)
		}
		items++
		return nil
	}

	acceptItem := func(v ValueRef) error {
		if err := countItem(); err != nil {
			return err
		}
		values = append(values, v)
		return nil
	}

	for {
		b, ok := nextByte()
		if !ok {
			break
		}
		if b == 'e' {
			if len(containers) == 0 {
				return ValueRef{}, newCharError(EInvalidChar, 'e')
			}
			top := containers[len(containers)-1]
			containers = containers[:len(containers)-1]
			depth--
			switch top.kind {
			case KindList:
				elems := append([]ValueRef(nil), values[top.start:]...)
				values = values[:top.start]
				values = append(values, RefList(elems))
			case KindDict:
				entries := values[top.start:]
				if len(entries)%2 != 0 {
					return ValueRef{}, newError(EParseDict)
				}
				dict := make([]DictEntryRef, 0, len(entries)/2)
				for i := 0; i < len(entries); i += 2 {
					key, ok := entries[i].AsBytes()
					if !ok {
						return ValueRef{}, newError(EParseDict)
					}
					dict = append(dict, DictEntryRef{Key: key, Value: entries[i+1]})
				}
				values = values[:top.start]
				values = append(values, RefDict(dict))
			}
			continue
		}

		if len(containers) == 0 && len(values) != 0 {
			return ValueRef{}, newError(EEOF)
		}

		switch {
		case b >= '0' && b <= '9':
			lenBytes, err := readUntil(':')
			if err != nil {
				return ValueRef{}, err
			}
			lenBytes = append([]byte{b}, lenBytes...)
			n, err := strconv.ParseInt(string(lenBytes), 10, 64)
			if err != nil || n < 0 {
				return ValueRef{}, newError(EParseBytes)
			}
			if pos+int(n) > len(data) {
				return ValueRef{}, newError(EEOF)
			}
			s := data[pos : pos+int(n)]
			pos += int(n)
			if err := acceptItem(RefString(s)); err != nil {
				return ValueRef{}, err
			}
		case b == 'i':
			intBytes, err := readUntil('e')
			if err != nil {
				return ValueRef{}, err
			}
			if !validIntGrammar(intBytes) {
				return ValueRef{}, newError(EParseInt)
			}
			n, err := strconv.ParseInt(string(intBytes), 10, 64)
			if err != nil {
				return ValueRef{}, newError(EParseInt)
			}
			if err := acceptItem(RefInt(n)); err != nil {
				return ValueRef{}, err
			}
		case b == 'l':
			if err := countItem(); err != nil {
				return ValueRef{}, err
			}
			containers = append(containers, containerFrame{kind: KindList, start: len(values)})
			depth++
			if depthLimit != NoLimit && depth > depthLimit {
				return ValueRef{}, newError(EDepthLimit)
			}
		case b == 'd':
			if err := countItem(); err != nil {
				return ValueRef{}, err
			}
			containers = append(containers, containerFrame{kind: KindDict, start: len(values)})
			depth++
			if depthLimit != NoLimit && depth > depthLimit {
				return ValueRef{}, newError(EDepthLimit)
			}
		default:
			return ValueRef{}, newCharError(EInvalidChar, b)
		}
	}

	if len(containers) == 0 && len(values) == 1 {
		return values[0], nil
	}
	return ValueRef{}, newError(EEOF)
}
