package infile

import (
	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// voidTag is the one-byte tag of a Void filler element.
var voidTag = []byte{0xEC}

// voidLayout returns the size-vint width a Void element spanning a
// gap of g total bytes (one tag byte included) will use, and the resulting
// payload length, choosing the minimal size-vint width k such that
// g-1-k < 128^k - 1.
func voidLayout(g int64) (sizeWidth int, payloadLen int64, err error) {
	if g < 2 {
		return 0, 0, ebmlerr.New(ebmlerr.Write, "void filler: gap narrower than 2 bytes")
	}
	for k := 1; k <= maxVintWidth; k++ {
		payload := g - 1 - int64(k)
		if payload < 0 {
			continue
		}
		if uint64(payload) < vintLimit(k) {
			return k, payload, nil
		}
	}
	return 0, 0, ebmlerr.New(ebmlerr.Write, "void filler: gap too wide to encode")
}

// writeVoidAt writes a single Void element spanning exactly g bytes at
// offset. The payload bytes are never read back meaningfully, so they
// are left as whatever the filesystem already has there (typically a
// sparse hole reads back as zero) rather than explicitly zero-filled;
// a caller that needs the bytes physically zeroed can PunchHole first.
func (m *Manager) writeVoidAt(offset int64, g int64) error {
	sizeWidth, payloadLen, err := voidLayout(g)
	if err != nil {
		return err
	}
	hdr, err := writeHead(voidTag, uint64(payloadLen), sizeWidth)
	if err != nil {
		return err
	}
	if _, err := m.file().WriteAt(hdr, offset); err != nil {
		return ebmlerr.Wrap(ebmlerr.Write, "write void filler", err)
	}
	return nil
}
