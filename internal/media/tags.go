package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

var (
	jpegMagic = []byte{0xff, 0xd8}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
)

// embedComment splices a descriptive comment into an encoded image: a COM
// segment for JPEG, a tEXt chunk for PNG. The pixel data is untouched.
func embedComment(data []byte, comment string) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return embedJPEGComment(data, comment)
	case bytes.HasPrefix(data, pngMagic):
		return embedPNGText(data, "Comment", comment)
	default:
		return nil, errors.New("unsupported image container")
	}
}

// embedJPEGComment inserts a COM (0xFFFE) segment directly after SOI.
func embedJPEGComment(data []byte, comment string) ([]byte, error) {
	payload := []byte(comment)
	if len(payload)+2 > 0xffff {
		return nil, errors.New("comment too long")
	}

	segment := make([]byte, 4+len(payload))
	segment[0] = 0xff
	segment[1] = 0xfe
	binary.BigEndian.PutUint16(segment[2:], uint16(len(payload)+2))
	copy(segment[4:], payload)

	out := make([]byte, 0, len(data)+len(segment))
	out = append(out, data[:2]...)
	out = append(out, segment...)
	out = append(out, data[2:]...)
	return out, nil
}

// embedPNGText inserts a tEXt chunk after IHDR.
func embedPNGText(data []byte, keyword, text string) ([]byte, error) {
	// Signature (8) + IHDR length (4) + type (4) + data + CRC (4).
	if len(data) < 16 {
		return nil, errors.New("truncated png")
	}
	ihdrLen := binary.BigEndian.Uint32(data[8:12])
	insertAt := 8 + 12 + int(ihdrLen)
	if insertAt > len(data) {
		return nil, errors.New("truncated png")
	}

	chunkData := append(append([]byte(keyword), 0), []byte(text)...)
	chunk := make([]byte, 0, 12+len(chunkData))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(chunkData)))
	chunk = append(chunk, lenBuf[:]...)
	chunk = append(chunk, []byte("tEXt")...)
	chunk = append(chunk, chunkData...)

	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(chunkData)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	chunk = append(chunk, crcBuf[:]...)

	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:insertAt]...)
	out = append(out, chunk...)
	out = append(out, data[insertAt:]...)
	return out, nil
}

// extractJPEGComment returns the first COM segment payload, if any.
// Used by tests to verify the round trip.
func extractJPEGComment(data []byte) (string, bool) {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xff {
			return "", false
		}
		marker := data[i+1]
		if marker == 0xd9 || marker == 0xda {
			return "", false
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2:]))
		if marker == 0xfe {
			if i+2+segLen > len(data) {
				return "", false
			}
			return string(data[i+4 : i+2+segLen]), true
		}
		i += 2 + segLen
	}
	return "", false
}
