package packet

import (
	"encoding/binary"
	"io"
)

// WriteTo writes the packet as header + payload to w.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads one packet (header, then payload) from r.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[30:32]))
	buf := make([]byte, headerSize+n)
	copy(buf, hdr)
	if n > 0 {
		if _, err := io.ReadFull(r, buf[headerSize:]); err != nil {
			return int64(headerSize), err
		}
	}
	if err := p.UnmarshalBinary(buf); err != nil {
		return int64(len(buf)), err
	}
	return int64(len(buf)), nil
}
