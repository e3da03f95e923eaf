package mimic

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// mdnsMulticastAddr/mdnsPort are the standard mDNS multicast group and
// port, same values the teacher's low-level mdns reflector binds to.
var mdnsMulticastAddr = &net.UDPAddr{IP: net.ParseIP("224.0.0.251"), Port: 5353}

const mdnsTTLSeconds = 120

// announceHostname sends an unsolicited mDNS A-record announcement for
// name -> ip, the wire-level equivalent of what a real embedded device's
// mDNS responder broadcasts on boot. Best-effort: failures are left to the
// caller to log, since a missed announcement isn't fatal — the virtual IP
// alias and port forwards are what actually make the mimic reachable.
func announceHostname(name, ip string) error {
	return sendAnnouncement(name, ip, mdnsTTLSeconds)
}

// withdrawHostname sends a goodbye packet (TTL 0) so the mDNS cache on the
// LAN drops the mimic's hostname promptly on removal instead of waiting
// out the original TTL.
func withdrawHostname(name, ip string) error {
	return sendAnnouncement(name, ip, 0)
}

func sendAnnouncement(name, ip string, ttl uint32) error {
	addr4 := net.ParseIP(ip).To4()
	if addr4 == nil {
		return fmt.Errorf("mdns announce: %q is not an IPv4 address", ip)
	}

	conn, err := net.DialUDP("udp4", nil, mdnsMulticastAddr)
	if err != nil {
		return fmt.Errorf("mdns announce: dial multicast group: %w", err)
	}
	defer conn.Close()

	packet := buildARecordResponse(name, addr4, ttl)
	_, err = conn.Write(packet)
	return err
}

// buildARecordResponse hand-assembles a minimal mDNS response packet
// carrying a single A record, per RFC 6762 §6 (cache-flush bit set so
// other hosts replace any stale entry immediately).
func buildARecordResponse(name string, addr net.IP, ttl uint32) []byte {
	var buf []byte

	// Header: ID=0, flags=response+authoritative, 0 questions, 1 answer.
	buf = appendUint16(buf, 0)
	buf = appendUint16(buf, 0x8400)
	buf = appendUint16(buf, 0) // QDCOUNT
	buf = appendUint16(buf, 1) // ANCOUNT
	buf = appendUint16(buf, 0) // NSCOUNT
	buf = appendUint16(buf, 0) // ARCOUNT

	buf = appendDNSName(buf, name)
	buf = appendUint16(buf, 1)      // TYPE A
	buf = appendUint16(buf, 0x8001) // CLASS IN with cache-flush bit
	buf = appendUint32(buf, ttl)
	buf = appendUint16(buf, 4) // RDLENGTH
	buf = append(buf, addr...)

	return buf
}

func appendDNSName(buf []byte, name string) []byte {
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" {
			continue
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0)
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
