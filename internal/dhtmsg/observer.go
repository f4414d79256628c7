package dhtmsg

import (
	"net"
	"time"

	"github.com/nmxmxh/dht-core/internal/dhtid"
)

// ObserverFlags is a bitset describing the lifecycle state of one
// outstanding DHT request, mirroring the reference implementation's
// bitflags rather than a hand-rolled macro system — these are plain named
// constants over a uint8.
type ObserverFlags uint8

const (
	FlagQueried       ObserverFlags = 1 << iota // a request has been sent
	FlagInitial                                 // part of the traversal's seed set
	FlagNoId                                    // target id unknown when added
	FlagShortTimeout                            // has already used its one short-timeout retry
	FlagFailed                                  // timed out or errored
	FlagIPv6Address                             // endpoint is IPv6
	FlagAlive                                   // received at least one valid reply
	FlagDone                                    // traversal has finished with this observer
)

// Has reports whether all bits in want are set.
func (f ObserverFlags) Has(want ObserverFlags) bool { return f&want == want }

// Set returns f with bits in flag set.
func (f ObserverFlags) Set(flag ObserverFlags) ObserverFlags { return f | flag }

// Clear returns f with bits in flag cleared.
func (f ObserverFlags) Clear(flag ObserverFlags) ObserverFlags { return f &^ flag }

// Observer is the capability set implemented by the concrete in-traversal
// observer and by test doubles: the reactor calls the notification methods
// when a reply, timeout, or abort event arrives for this request.
type Observer interface {
	Reply(msg Msg)
	ShortTimeout()
	Timeout()
	Abort()
	Flags() ObserverFlags
	SentAt() time.Time
	TargetEndpoint() (net.IP, uint16)
	ID() dhtid.NodeId
}

// TraversalRef addresses an observer by (traversal id, slot index) rather
// than by pointer, so observers never hold a reference back into their
// owning traversal directly — avoiding a reference cycle between the
// traversal's observer pool and the observers themselves. The traversal
// looks itself up by TraversalId when an observer needs to report back.
type TraversalRef struct {
	TraversalId uint64
	Slot        int
}
