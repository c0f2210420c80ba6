package disktable

import (
	"bufio"
	"encoding/binary"
	"io"
)

// HeaderSize is the fixed 10-byte disktable file header: count:u16 LE |
// timestamp:u64 LE.
const HeaderSize = 10

// EntryHeaderSize is the fixed portion of an entry preceding its key and
// value bytes: key_size:u16 LE | value_size:u32 LE | timestamp:u64 LE.
const EntryHeaderSize = 14

// compressedFlag is the reserved high bit of the on-disk value_size field
// used to mark a zstd-compressed value. When compression is disabled
// (the default) this bit is always 0 and the format is unchanged from
// an uncompressed segment.
const compressedFlag = uint32(1) << 31

func writeHeader(w io.Writer, count uint16, timestamp uint64) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], count)
	binary.LittleEndian.PutUint64(buf[2:10], timestamp)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (count uint16, timestamp uint64, err error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	count = binary.LittleEndian.Uint16(buf[0:2])
	timestamp = binary.LittleEndian.Uint64(buf[2:10])
	return count, timestamp, nil
}

// writeEntry writes one physical entry: key_size | on-disk value_size
// (with the compressed flag folded in) | timestamp | key bytes | on-disk
// value bytes.
func writeEntry(w io.Writer, keyRaw string, onDiskValue []byte, timestamp uint64, compressed bool) (int, error) {
	bw := bufio.NewWriter(w)

	var header [EntryHeaderSize]byte
	binary.LittleEndian.PutUint16(header[0:2], uint16(len(keyRaw)))
	valueSize := uint32(len(onDiskValue))
	if compressed {
		valueSize |= compressedFlag
	}
	binary.LittleEndian.PutUint32(header[2:6], valueSize)
	binary.LittleEndian.PutUint64(header[6:14], timestamp)

	if _, err := bw.Write(header[:]); err != nil {
		return 0, err
	}
	if _, err := bw.WriteString(keyRaw); err != nil {
		return 0, err
	}
	if _, err := bw.Write(onDiskValue); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return EntryHeaderSize + len(keyRaw) + len(onDiskValue), nil
}

// rawEntry is what readEntry parses straight off disk, before any
// decompression.
type rawEntry struct {
	Key        string
	Value      []byte
	Timestamp  uint64
	Compressed bool
}

func readEntry(r io.Reader) (rawEntry, error) {
	var header [EntryHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return rawEntry{}, err
	}
	keySize := binary.LittleEndian.Uint16(header[0:2])
	rawValueSize := binary.LittleEndian.Uint32(header[2:6])
	compressed := rawValueSize&compressedFlag != 0
	valueSize := rawValueSize &^ compressedFlag
	timestamp := binary.LittleEndian.Uint64(header[6:14])

	keyBuf := make([]byte, keySize)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return rawEntry{}, err
	}
	valueBuf := make([]byte, valueSize)
	if valueSize > 0 {
		if _, err := io.ReadFull(r, valueBuf); err != nil {
			return rawEntry{}, err
		}
	}

	return rawEntry{
		Key:        string(keyBuf),
		Value:      valueBuf,
		Timestamp:  timestamp,
		Compressed: compressed,
	}, nil
}

func (e rawEntry) onDiskSize() uint32 {
	return EntryHeaderSize + uint32(len(e.Key)) + uint32(len(e.Value))
}

