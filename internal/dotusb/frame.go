package dotusb

import (
	"bufio"
	"fmt"
	"io"
)

// encodeFrame wraps a message in the serial wire framing. Payloads longer
// than 254 bytes use the extended-length form: a 0xFF length marker followed
// by a big-endian 16-bit length.
func encodeFrame(mid byte, payload []byte) []byte {
	var frame []byte
	if len(payload) < 0xFF {
		frame = append(frame, framePreamble, frameBusID, mid, byte(len(payload)))
	} else {
		frame = append(frame, framePreamble, frameBusID, mid, 0xFF,
			byte(len(payload)>>8), byte(len(payload)))
	}
	frame = append(frame, payload...)
	frame = append(frame, checksum(frame[1:]))
	return frame
}

// decodeFrame reads bytes until a whole well-formed frame arrives. Garbage
// before the preamble is skipped; a bad checksum is an error because it means
// the stream lost sync mid-frame.
func decodeFrame(r *bufio.Reader) (byte, []byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b != framePreamble {
			continue
		}

		header := make([]byte, 3)
		if _, err := io.ReadFull(r, header); err != nil {
			return 0, nil, err
		}
		if header[0] != frameBusID {
			continue
		}
		mid := header[1]

		length := int(header[2])
		sum := header[0] + header[1] + header[2]
		if length == 0xFF {
			ext := make([]byte, 2)
			if _, err := io.ReadFull(r, ext); err != nil {
				return 0, nil, err
			}
			length = int(ext[0])<<8 | int(ext[1])
			sum += ext[0] + ext[1]
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
		for _, pb := range payload {
			sum += pb
		}

		cs, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if sum+cs != 0 {
			return 0, nil, fmt.Errorf("frame %#x: checksum mismatch", mid)
		}
		return mid, payload, nil
	}
}

// checksum returns the byte that makes the frame body sum to zero mod 256.
func checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return -sum
}
