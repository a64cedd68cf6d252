package vectorindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// File layout:
//
//	magic "CIVX" | version u16 | zstd(payload) | crc32(IEEE) of all preceding bytes
//
// payload (little endian):
//
//	dim u32 | M u32 | efConstruction u32 | efSearch u32 | count u32 | entry i32 | maxLevel u32
//	count x node: idLen u16 | id | levels u8 | dim x u16 | levels x (n u16 | n x i32)
const (
	fileMagic   = "CIVX"
	fileVersion = uint16(1)
	headerSize  = len(fileMagic) + 2
	trailerSize = 4
)

// Save writes the index in its file format
func (x *Index) Save(w io.Writer) error {
	x.mu.RLock()
	payload, err := x.marshal()
	x.mu.RUnlock()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(fileMagic)
	_ = binary.Write(&buf, binary.LittleEndian, fileVersion)

	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress vectors: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress vectors: %w", err)
	}

	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}

// SaveFile writes the index to path through a temp file and rename, so a
// crash never leaves a partially written file at path.
func (x *Index) SaveFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := x.Save(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vectors: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace vectors: %w", err)
	}
	return nil
}

// Load reads an index written by Save. Any structural problem, including a
// checksum mismatch, is reported as ErrCorrupt.
func Load(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: file too short", ErrCorrupt)
	}
	if string(data[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[len(fileMagic):headerSize]); v != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	payload, err := dec.DecodeAll(body[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}
	return unmarshal(payload)
}

// LoadFile reads an index from path
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func (x *Index) marshal() ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian

	header := []uint32{
		uint32(x.dim), uint32(x.cfg.M), uint32(x.cfg.EfConstruction), uint32(x.cfg.EfSearch),
		uint32(len(x.nodes)), uint32(x.entry), uint32(x.maxLevel),
	}
	if err := binary.Write(&buf, le, header); err != nil {
		return nil, err
	}

	for _, n := range x.nodes {
		if len(n.id) > 0xffff {
			return nil, fmt.Errorf("chunk id too long: %d bytes", len(n.id))
		}
		_ = binary.Write(&buf, le, uint16(len(n.id)))
		buf.WriteString(n.id)
		buf.WriteByte(byte(len(n.neighbors)))
		_ = binary.Write(&buf, le, n.vec)
		for _, nbs := range n.neighbors {
			_ = binary.Write(&buf, le, uint16(len(nbs)))
			_ = binary.Write(&buf, le, nbs)
		}
	}
	return buf.Bytes(), nil
}

// reader is a bounds-checked little endian cursor
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errors.New("unexpected end of data")
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func unmarshal(payload []byte) (*Index, error) {
	r := &reader{data: payload}
	dim := int(r.u32())
	cfg := Config{M: int(r.u32()), EfConstruction: int(r.u32()), EfSearch: int(r.u32()), Seed: DefaultConfig().Seed}
	count := int(r.u32())
	entry := int32(r.u32())
	maxLevel := int(r.u32())
	if r.err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, r.err)
	}
	if dim <= 0 || count < 0 || count > len(payload)/(2*dim+3) ||
		maxLevel >= maxLevels || (count == 0) != (entry < 0) || int(entry) >= count {
		return nil, fmt.Errorf("%w: invalid header", ErrCorrupt)
	}

	x := New(dim, cfg)
	x.entry = entry
	x.maxLevel = maxLevel
	x.nodes = make([]*node, 0, count)

	for i := 0; i < count; i++ {
		id := string(r.take(int(r.u16())))
		levels := int(r.u8())
		if levels == 0 || levels > maxLevels {
			return nil, fmt.Errorf("%w: node %d has %d levels", ErrCorrupt, i, levels)
		}

		n := &node{id: id, vec: make([]uint16, dim), neighbors: make([][]int32, levels)}
		for j := range n.vec {
			n.vec[j] = r.u16()
		}
		for l := range n.neighbors {
			nbs := make([]int32, r.u16())
			for k := range nbs {
				nb := int32(r.u32())
				if nb < 0 || int(nb) >= count {
					return nil, fmt.Errorf("%w: node %d links to %d", ErrCorrupt, i, nb)
				}
				nbs[k] = nb
			}
			n.neighbors[l] = nbs
		}
		if r.err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrCorrupt, i, r.err)
		}
		if _, dup := x.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrCorrupt, id)
		}

		x.byID[id] = int32(i)
		x.nodes = append(x.nodes, n)
	}

	if r.off != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(payload)-r.off)
	}
	return x, nil
}
