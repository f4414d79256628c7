package dhtmsg

import (
	"fmt"
	"net"

	"github.com/nmxmxh/dht-core/internal/bencode"
)

// Msg wraps a decoded bencode value together with the socket address it
// arrived from (or, for an outbound message under construction, the
// address it will be sent to).
type Msg struct {
	Value bencode.Value
	Addr  net.IP
	Port  uint16
}

// KeyFlags controls how VerifyMessage treats one descriptor entry.
type KeyFlags uint8

const (
	// Optional allows the key to be absent without failing verification.
	Optional KeyFlags = 1 << iota
	// ParseChildren recurses verification into the child value using
	// Children as its own descriptor list (the child must be a dict).
	ParseChildren
	// LastChild marks the final descriptor in a list — used by callers
	// that build the descriptor slice incrementally and need a sentinel.
	// VerifyMessage itself does not act on it.
	LastChild
	// SizeDivisible requires a byte-string value's length be an exact
	// multiple of Size (used for e.g. 26-byte compact node records).
	SizeDivisible
)

// KeyDesc describes one expected dict entry for VerifyMessage.
type KeyDesc struct {
	Name     string
	Kind     bencode.Kind
	Size     int // for KindString: exact length, or (with SizeDivisible) a divisor
	Flags    KeyFlags
	Children []KeyDesc // used when Flags&ParseChildren != 0
}

// VerifyMessage walks descs against msg's top-level dict and returns the
// matched child values in the same order as descs, or a descriptive error
// naming the first descriptor that failed to match.
func VerifyMessage(msg Msg, descs []KeyDesc) ([]bencode.Value, error) {
	out := make([]bencode.Value, 0, len(descs))
	for _, d := range descs {
		child, ok := msg.Value.DictFind(d.Name)
		if !ok {
			if d.Flags&Optional != 0 {
				out = append(out, bencode.Value{})
				continue
			}
			return nil, fmt.Errorf("dhtmsg: missing required key %q", d.Name)
		}
		if child.Kind() != d.Kind {
			return nil, fmt.Errorf("dhtmsg: key %q: expected kind %d, got %d", d.Name, d.Kind, child.Kind())
		}
		if d.Kind == bencode.KindString {
			b, _ := child.AsBytes()
			if d.Flags&SizeDivisible != 0 {
				if d.Size > 0 && len(b)%d.Size != 0 {
					return nil, fmt.Errorf("dhtmsg: key %q: length %d not divisible by %d", d.Name, len(b), d.Size)
				}
			} else if d.Size > 0 && len(b) != d.Size {
				return nil, fmt.Errorf("dhtmsg: key %q: expected length %d, got %d", d.Name, d.Size, len(b))
			}
		}
		if d.Flags&ParseChildren != 0 {
			if _, err := VerifyMessage(Msg{Value: child}, d.Children); err != nil {
				return nil, fmt.Errorf("dhtmsg: key %q: %w", d.Name, err)
			}
		}
		out = append(out, child)
	}
	return out, nil
}
