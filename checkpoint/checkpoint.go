// Package checkpoint serializes and publishes trained model state.
//
// A checkpoint bundles the identity bank snapshot with the learned head
// weights, compressed into a single self-describing blob. Publication goes
// through a manifest with a CURRENT pointer so that readers always observe
// a complete checkpoint, never a partially written one.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/chaste10ve/person-search/oim"
)

// Binary layout of an encoded checkpoint:
//
//	magic      [4]byte  "PSCP"
//	version    uint16
//	codec      string   (uint16 length prefix)
//	compressed uint8    (0 = payload stored raw)
//	rawSize    uint64   (payload size before compression)
//	payload    []byte
const (
	magic         = "PSCP"
	formatVersion = 1
)

var (
	// ErrBadMagic is returned when decoding bytes that are not a checkpoint.
	ErrBadMagic = errors.New("not a checkpoint: bad magic")

	// ErrUnknownCodec is returned when the header names a codec this build
	// does not provide.
	ErrUnknownCodec = errors.New("unknown checkpoint codec")
)

// LinearWeights holds the parameters of one fully connected head.
// Weight is row-major with Out rows of In columns.
type LinearWeights struct {
	In     int
	Out    int
	Weight []float32
	Bias   []float32
}

// Checkpoint is the complete persistent state of a training run.
type Checkpoint struct {
	Dataset      string
	Backbone     string
	EmbeddingDim int
	Step         uint64

	Bank  *oim.Snapshot
	Heads map[string]LinearWeights
}

// Encode serializes the checkpoint using the given codec. A nil codec
// selects Default.
func Encode(ck *Checkpoint, codec Codec) ([]byte, error) {
	if ck == nil {
		return nil, errors.New("nil checkpoint")
	}
	if ck.Bank == nil {
		return nil, errors.New("checkpoint has no bank snapshot")
	}
	if codec == nil {
		codec = Default
	}

	body := encodeBody(ck)

	payload, err := codec.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("compress checkpoint: %w", err)
	}
	compressed := byte(1)
	if len(payload) >= len(body) {
		// Incompressible; store raw.
		payload = body
		compressed = 0
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	writeUint16(&buf, formatVersion)
	writeString16(&buf, codec.Name())
	buf.WriteByte(compressed)
	writeUint64(&buf, uint64(len(body)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode deserializes a checkpoint, resolving the codec from the header.
func Decode(data []byte) (*Checkpoint, error) {
	r := bytes.NewReader(data)

	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || string(m[:]) != magic {
		return nil, ErrBadMagic
	}
	version, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}
	codecName, err := readString16(r)
	if err != nil {
		return nil, fmt.Errorf("read codec name: %w", err)
	}
	compressed, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read compression flag: %w", err)
	}
	rawSize, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}

	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	body := payload
	if compressed != 0 {
		codec, ok := ByName(codecName)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codecName)
		}
		body, err = codec.Decompress(payload, int(rawSize))
		if err != nil {
			return nil, err
		}
	}
	if uint64(len(body)) != rawSize {
		return nil, fmt.Errorf("checkpoint payload size %d does not match header %d", len(body), rawSize)
	}
	return decodeBody(body)
}

func encodeBody(ck *Checkpoint) []byte {
	var buf bytes.Buffer

	writeString16(&buf, ck.Dataset)
	writeString16(&buf, ck.Backbone)
	writeUint64(&buf, uint64(ck.EmbeddingDim))
	writeUint64(&buf, ck.Step)

	s := ck.Bank
	writeUint64(&buf, uint64(s.NumIdentities))
	writeUint64(&buf, uint64(s.QueueSize))
	writeUint64(&buf, uint64(s.Dim))
	writeUint32(&buf, math.Float32bits(s.Momentum))
	writeFloats(&buf, s.LUT)
	writeFloats(&buf, s.Queue)
	writeUint64(&buf, uint64(s.Cursor))
	writeBytes(&buf, s.Touched)

	// Heads are written in name order so encoding is deterministic.
	names := make([]string, 0, len(ck.Heads))
	for name := range ck.Heads {
		names = append(names, name)
	}
	sort.Strings(names)
	writeUint32(&buf, uint32(len(names)))
	for _, name := range names {
		h := ck.Heads[name]
		writeString16(&buf, name)
		writeUint64(&buf, uint64(h.In))
		writeUint64(&buf, uint64(h.Out))
		writeFloats(&buf, h.Weight)
		writeFloats(&buf, h.Bias)
	}
	return buf.Bytes()
}

func decodeBody(body []byte) (*Checkpoint, error) {
	r := bytes.NewReader(body)
	ck := &Checkpoint{Bank: &oim.Snapshot{}}

	var err error
	if ck.Dataset, err = readString16(r); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if ck.Backbone, err = readString16(r); err != nil {
		return nil, fmt.Errorf("read backbone: %w", err)
	}
	dim, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read embedding dim: %w", err)
	}
	ck.EmbeddingDim = int(dim)
	if ck.Step, err = readUint64(r); err != nil {
		return nil, fmt.Errorf("read step: %w", err)
	}

	s := ck.Bank
	if err := readBankSnapshot(r, s); err != nil {
		return nil, err
	}

	numHeads, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read head count: %w", err)
	}
	ck.Heads = make(map[string]LinearWeights, numHeads)
	for i := uint32(0); i < numHeads; i++ {
		name, err := readString16(r)
		if err != nil {
			return nil, fmt.Errorf("read head name: %w", err)
		}
		var h LinearWeights
		in, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("read head %q: %w", name, err)
		}
		out, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("read head %q: %w", name, err)
		}
		h.In, h.Out = int(in), int(out)
		if h.Weight, err = readFloats(r); err != nil {
			return nil, fmt.Errorf("read head %q weight: %w", name, err)
		}
		if h.Bias, err = readFloats(r); err != nil {
			return nil, fmt.Errorf("read head %q bias: %w", name, err)
		}
		ck.Heads[name] = h
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("checkpoint has %d trailing bytes", r.Len())
	}
	return ck, nil
}

func readBankSnapshot(r *bytes.Reader, s *oim.Snapshot) error {
	numIdentities, err := readUint64(r)
	if err != nil {
		return fmt.Errorf("read bank identities: %w", err)
	}
	queueSize, err := readUint64(r)
	if err != nil {
		return fmt.Errorf("read bank queue size: %w", err)
	}
	dim, err := readUint64(r)
	if err != nil {
		return fmt.Errorf("read bank dim: %w", err)
	}
	mbits, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read bank momentum: %w", err)
	}
	s.NumIdentities = int(numIdentities)
	s.QueueSize = int(queueSize)
	s.Dim = int(dim)
	s.Momentum = math.Float32frombits(mbits)

	if s.LUT, err = readFloats(r); err != nil {
		return fmt.Errorf("read bank lut: %w", err)
	}
	if s.Queue, err = readFloats(r); err != nil {
		return fmt.Errorf("read bank queue: %w", err)
	}
	cursor, err := readUint64(r)
	if err != nil {
		return fmt.Errorf("read bank cursor: %w", err)
	}
	s.Cursor = int(cursor)
	if s.Touched, err = readBytes(r); err != nil {
		return fmt.Errorf("read bank touched set: %w", err)
	}
	return nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString16(buf *bytes.Buffer, s string) {
	writeUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint64(buf, uint64(len(b)))
	buf.Write(b)
}

func writeFloats(buf *bytes.Buffer, f []float32) {
	writeUint64(buf, uint64(len(f)))
	var b [4]byte
	for _, v := range f {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString16(r *bytes.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("byte field length %d exceeds remaining input %d", n, r.Len())
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFloats(r *bytes.Reader) ([]float32, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len())/4 {
		return nil, fmt.Errorf("float field length %d exceeds remaining input %d", n, r.Len())
	}
	if n == 0 {
		return nil, nil
	}
	f := make([]float32, n)
	var b [4]byte
	for i := range f {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[:]))
	}
	return f, nil
}
