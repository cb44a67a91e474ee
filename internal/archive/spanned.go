package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zip"
)

const (
	fileHeaderSignature = 0x04034b50
	dirHeaderSignature  = 0x02014b50
	dirEndSignature     = 0x06054b50

	dirHeaderLen = 46
	dirEndLen    = 22
)

// dirEnd holds the end of central directory fields needed to rebase a spanned archive
type dirEnd struct {
	disk      uint16
	dirDisk   uint16
	records   uint16
	dirSize   uint32
	dirOffset uint32
}

func (d dirEnd) zip64() bool {
	return d.disk == math.MaxUint16 || d.dirDisk == math.MaxUint16 || d.records == math.MaxUint16 ||
		d.dirSize == math.MaxUint32 || d.dirOffset == math.MaxUint32
}

func readDirEnd(r io.ReaderAt, size int64) (dirEnd, error) {
	n := int64(dirEndLen + math.MaxUint16)
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, size-n); err != nil && !errors.Is(err, io.EOF) {
		return dirEnd{}, err
	}

	le := binary.LittleEndian
	for i := len(buf) - dirEndLen; i >= 0; i-- {
		if le.Uint32(buf[i:]) != dirEndSignature {
			continue
		}
		b := buf[i:]
		return dirEnd{
			disk:      le.Uint16(b[4:]),
			dirDisk:   le.Uint16(b[6:]),
			records:   le.Uint16(b[10:]),
			dirSize:   le.Uint32(b[12:]),
			dirOffset: le.Uint32(b[16:]),
		}, nil
	}
	return dirEnd{}, zip.ErrFormat
}

// rebaseSpanned appends a central directory whose entries point at absolute
// offsets in the concatenated volumes, followed by a single-disk end record.
// Byte-split archives already carry absolute offsets and are left untouched.
func (v *volumeSet) rebaseSpanned() error {
	end, err := readDirEnd(v, v.size)
	if err != nil {
		return err
	}
	if end.disk == 0 {
		return nil
	}
	if end.zip64() {
		return ErrZip64Span
	}
	if int(end.disk) != len(v.parts)-1 {
		return fmt.Errorf("%w: archive spans %d volumes, found %d", ErrMissingVolume, int(end.disk)+1, len(v.parts))
	}

	dir := make([]byte, end.dirSize)
	if _, err := v.ReadAt(dir, v.offsets[end.dirDisk]+int64(end.dirOffset)); err != nil {
		return fmt.Errorf("failed to read central directory: %w", err)
	}

	le := binary.LittleEndian
	rebuilt := make([]byte, 0, len(dir)+dirEndLen)
	for p, i := 0, 0; i < int(end.records); i++ {
		if len(dir)-p < dirHeaderLen || le.Uint32(dir[p:]) != dirHeaderSignature {
			return zip.ErrFormat
		}
		h := dir[p:]
		size := dirHeaderLen + int(le.Uint16(h[28:])) + int(le.Uint16(h[30:])) + int(le.Uint16(h[32:]))
		if len(dir)-p < size {
			return zip.ErrFormat
		}

		disk := int(le.Uint16(h[34:]))
		local := le.Uint32(h[42:])
		if local == math.MaxUint32 {
			return ErrZip64Span
		}
		if disk >= len(v.parts) {
			return fmt.Errorf("%w: entry on volume %d", ErrMissingVolume, disk+1)
		}
		abs := v.offsets[disk] + int64(local)
		if abs > math.MaxUint32 {
			return ErrZip64Span
		}
		if sig, err := v.signatureAt(abs); err != nil || sig != fileHeaderSignature {
			name := h[dirHeaderLen : dirHeaderLen+int(le.Uint16(h[28:]))]
			return fmt.Errorf("entry %s: no local header at volume %d offset %d: %w", name, disk+1, local, zip.ErrFormat)
		}

		entry := append([]byte(nil), h[:size]...)
		le.PutUint16(entry[34:], 0)
		le.PutUint32(entry[42:], uint32(abs))
		rebuilt = append(rebuilt, entry...)
		p += size
	}

	if v.size > math.MaxUint32 {
		return ErrZip64Span
	}
	tail := make([]byte, dirEndLen)
	le.PutUint32(tail[0:], dirEndSignature)
	le.PutUint16(tail[8:], end.records)
	le.PutUint16(tail[10:], end.records)
	le.PutUint32(tail[12:], uint32(len(rebuilt)))
	le.PutUint32(tail[16:], uint32(v.size))
	rebuilt = append(rebuilt, tail...)

	v.add(bytes.NewReader(rebuilt), int64(len(rebuilt)))
	return nil
}

func (v *volumeSet) signatureAt(off int64) (uint32, error) {
	var b [4]byte
	if _, err := v.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
