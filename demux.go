package paradox

import "fmt"

// splitPackets splits a single read into the panel messages it holds. A run
// of 0xEE bytes right after a message is padding and belongs to it.
// Malformed input stops the split; whatever was parsed so far is returned.
func splitPackets(buf []byte) []Packet {
	var packets []Packet
	for len(buf) >= headerSize {
		if buf[0] != startOfHeader {
			log.Warn(
				"missing start of header, dropping the rest of the read",
				"bytes", fmt.Sprintf("% 02X", buf),
			)
			break
		}
		packet, err := parsePacket(buf)
		if err != nil {
			log.Warn("could not split response", "err", err, "bytes", fmt.Sprintf("% 02X", buf))
			break
		}
		end := headerSize + int(packet.Length)
		for end < len(buf) && buf[end] == padByte {
			end++
		}
		packets = append(packets, packet)
		buf = buf[end:]
	}
	if n := len(buf); n > 0 && n < headerSize {
		log.Debug("ignoring trailing bytes", "bytes", fmt.Sprintf("% 02X", buf))
	}
	return packets
}
