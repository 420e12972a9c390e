package resolver

// publicTrackers is substituted into magnet adds that embed no trackers of
// their own, so metadata stays reachable without relying on DHT alone.
var publicTrackers = []string{
	"udp://tracker.openbittorrent.com:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.coppersurfer.tk:6969/announce",
	"udp://tracker.leechers-paradise.org:6969/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://tracker.moeking.me:6969/announce",
	"udp://valakas.rollo.dnsabr.com:2710/announce",
	"udp://p4p.arenabg.com:1337/announce",
}
