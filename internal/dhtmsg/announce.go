package dhtmsg

// AnnounceFlags are the optional bits an announce_peer query may set.
type AnnounceFlags uint8

const (
	AnnounceSeed        AnnounceFlags = 1 << iota // announcing as a seed (complete download)
	AnnounceImpliedPort                           // ignore the port argument, use the source port instead
	AnnounceSSLTorrent                            // announcing on behalf of an SSL-only torrent
)

func (f AnnounceFlags) Has(want AnnounceFlags) bool { return f&want == want }
