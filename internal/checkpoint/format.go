// Package checkpoint persists and restores the full training state:
// parameters, optimizer state, and the noise stream.
//
// Snapshot layout:
//
//	[4 bytes: magic "DPTC"]
//	[4 bytes: version (uint32 LE)]
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON metadata (step, rng state, tensor entries)]
//	[tensor data: float64 LE, in entry order]
//	[4 bytes: CRC32 (IEEE) of everything above]
//
// Checkpoints are written at update-step boundaries, so accumulator
// buffers are zero at every save point and are not part of a snapshot.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/tensor"
)

const (
	magic         = "DPTC"
	formatVersion = 1
	maxHeaderSize = 16 << 20
)

// Format errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	ErrChecksumMismatch   = errors.New("checksum mismatch: checkpoint may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
)

// Snapshot is the state gathered for one checkpoint: named tensors plus
// the noise stream state. Tensor entries reference live training tensors;
// Save reads them and Restore writes back into them in place.
type Snapshot struct {
	Tensors  map[string]*tensor.Dense
	RNGState uint64
}

type header struct {
	Step     int     `json:"step"`
	RNGState string  `json:"rng_state"` // uint64, as string to survive JSON number limits
	Entries  []entry `json:"entries"`
}

type entry struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Count int    `json:"count"`
}

// write serializes snap at step to w.
func write(w io.Writer, snap *Snapshot, step int) error {
	names := sortedNames(snap.Tensors)
	h := header{
		Step:     step,
		RNGState: strconv.FormatUint(snap.RNGState, 10),
	}
	for _, name := range names {
		t := snap.Tensors[name]
		h.Entries = append(h.Entries, entry{Name: name, Shape: t.Shape(), Count: t.Len()})
	}
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint header")
	}

	crc := crc32.NewIEEE()
	out := io.MultiWriter(w, crc)

	if _, err := out.Write([]byte(magic)); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(formatVersion)); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return err
	}
	if _, err := out.Write(headerJSON); err != nil {
		return err
	}

	buf := make([]byte, 8)
	for _, name := range names {
		for _, v := range snap.Tensors[name].Data() {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := out.Write(buf); err != nil {
				return err
			}
		}
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// read deserializes a checkpoint into snap. Every tensor entry must match
// an existing tensor of identical shape in snap; restoring copies values
// in place.
func read(r io.Reader, snap *Snapshot) (int, error) {
	h, err := scan(r, func(e entry) ([]float64, error) {
		dst, ok := snap.Tensors[e.Name]
		if !ok {
			return nil, errors.Errorf("checkpoint entry %q has no destination tensor", e.Name)
		}
		if !dst.Shape().Equal(tensor.Shape(e.Shape)) {
			return nil, errors.Errorf("entry %q shape mismatch: checkpoint %v, live %v",
				e.Name, e.Shape, dst.Shape())
		}
		return dst.Data(), nil
	})
	if err != nil {
		return 0, err
	}
	rngState, err := strconv.ParseUint(h.RNGState, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse rng state")
	}
	snap.RNGState = rngState
	return h.Step, nil
}

// scan walks a checkpoint stream, filling each entry's destination slice.
// lookup may return a nil slice to discard an entry's payload.
func scan(r io.Reader, lookup func(e entry) ([]float64, error)) (*header, error) {
	crc := crc32.NewIEEE()
	in := io.TeeReader(r, crc)

	magicBuf := make([]byte, 4)
	if _, err := io.ReadFull(in, magicBuf); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if string(magicBuf) != magic {
		return nil, errors.Wrapf(ErrInvalidMagic, "got %q", magicBuf)
	}

	var version uint32
	if err := binary.Read(in, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", version)
	}

	var headerSize uint64
	if err := binary.Read(in, binary.LittleEndian, &headerSize); err != nil {
		return nil, err
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(in, headerJSON); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, errors.Wrap(err, "unmarshal checkpoint header")
	}

	buf := make([]byte, 8)
	for _, e := range h.Entries {
		data, err := lookup(e)
		if err != nil {
			return nil, err
		}
		for i := 0; i < e.Count; i++ {
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "read entry %q", e.Name)
			}
			if data != nil {
				data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
			}
		}
	}

	sum := crc.Sum32()
	var storedSum uint32
	if err := binary.Read(r, binary.LittleEndian, &storedSum); err != nil {
		return nil, errors.Wrap(err, "read checksum")
	}
	if sum != storedSum {
		return nil, ErrChecksumMismatch
	}
	return &h, nil
}

func sortedNames(m map[string]*tensor.Dense) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	// Stable order so payload layout is deterministic.
	sort.Strings(names)
	return names
}
