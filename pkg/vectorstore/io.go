package vectorstore

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/N2FlowJS/nbase-sub001/internal/quantization"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
)

const vecFileVersion uint32 = 1

const (
	idKindInt    byte = 0
	idKindString byte = 1
)

func (s *Store) vecPath() string  { return filepath.Join(s.dir, "vec.bin") }
func (s *Store) metaPath() string { return filepath.Join(s.dir, "meta.json") }

func gzSuffix(compression bool, path string) string {
	if compression {
		return path + ".gz"
	}
	return path
}

// Save persists vectors (vec.bin) and metadata (meta.json) atomically:
// each file is written to a temp path then renamed into place. A
// concurrent Save call while one is in flight waits for and returns the
// in-flight call's outcome instead of racing it.
func (s *Store) Save() error {
	s.saveMu.Lock()
	if s.savingDone != nil {
		done := s.savingDone
		s.saveMu.Unlock()
		<-done
		s.saveMu.Lock()
		err := s.savingErr
		s.saveMu.Unlock()
		return err
	}
	done := make(chan struct{})
	s.savingDone = done
	s.saveMu.Unlock()

	err := s.save()

	s.saveMu.Lock()
	s.savingDone = nil
	s.savingErr = err
	s.saveMu.Unlock()
	close(done)

	return err
}

func (s *Store) save() error {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, Entry{ID: id, Vector: s.vectors[id], Metadata: s.metadata[id]})
	}
	dir := s.dir
	compression := s.compression
	s.mu.RUnlock()

	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dberrors.E("vectorstore.save", dberrors.IoError, err)
	}

	lockPath := filepath.Join(dir, ".save.lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return dberrors.E("vectorstore.save", dberrors.IoError, err)
	}
	defer fl.Unlock()

	if err := writeVecFile(gzSuffix(compression, s.vecPath()), entries, compression); err != nil {
		return dberrors.E("vectorstore.save", dberrors.IoError, err)
	}
	if err := writeMetaFile(gzSuffix(compression, s.metaPath()), entries, compression); err != nil {
		return dberrors.E("vectorstore.save", dberrors.IoError, err)
	}

	return nil
}

func writeVecFile(path string, entries []Entry, compression bool) error {
	return atomicWrite(path, func(w io.Writer) error {
		out := w
		var gz *gzip.Writer
		if compression {
			gz = gzip.NewWriter(w)
			out = gz
		}

		defaultDim := int32(-1)
		if len(entries) > 0 {
			defaultDim = int32(len(entries[0].Vector))
			for _, e := range entries {
				if int32(len(e.Vector)) != defaultDim {
					defaultDim = -1
					break
				}
			}
		}

		if err := binary.Write(out, binary.BigEndian, vecFileVersion); err != nil {
			return err
		}
		if err := binary.Write(out, binary.BigEndian, uint32(len(entries))); err != nil {
			return err
		}
		if err := binary.Write(out, binary.BigEndian, defaultDim); err != nil {
			return err
		}

		for _, e := range entries {
			if err := writeRecord(out, e.ID, e.Vector); err != nil {
				return err
			}
		}

		if gz != nil {
			return gz.Close()
		}
		return nil
	})
}

func writeRecord(w io.Writer, id ID, vector []float32) error {
	if id.IsString() {
		if err := binary.Write(w, binary.BigEndian, idKindString); err != nil {
			return err
		}
		s := id.Str()
		if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(s)); err != nil {
			return err
		}
	} else {
		if err := binary.Write(w, binary.BigEndian, idKindInt); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, id.Int()); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(vector))); err != nil {
		return err
	}
	for _, v := range vector {
		if err := binary.Write(w, binary.BigEndian, math.Float32bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func writeMetaFile(path string, entries []Entry, compression bool) error {
	meta := make(map[string]map[string]any, len(entries))
	for _, e := range entries {
		if e.Metadata != nil {
			meta[e.ID.Key()] = e.Metadata
		}
	}

	return atomicWrite(path, func(w io.Writer) error {
		out := w
		var gz *gzip.Writer
		if compression {
			gz = gzip.NewWriter(w)
			out = gz
		}
		enc := json.NewEncoder(out)
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if gz != nil {
			return gz.Close()
		}
		return nil
	})
}

// atomicWrite writes to a temp file in the same directory as path, then
// renames it into place, so readers never observe a partial file.
func atomicWrite(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load reads vec.bin and meta.json from dir, replacing in-memory state.
// Missing files leave the store empty rather than erroring, so a fresh
// partition's pre-materialized (but never-saved) data directory loads
// cleanly.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir
	if dir == "" {
		return nil
	}

	path := gzSuffix(s.compression, s.vecPath())
	entries, err := readVecFile(path, s.compression)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dberrors.E("vectorstore.load", dberrors.SerializationError, err)
	}

	metaPath := gzSuffix(s.compression, s.metaPath())
	meta, err := readMetaFile(metaPath, s.compression)
	if err != nil && !os.IsNotExist(err) {
		return dberrors.E("vectorstore.load", dberrors.SerializationError, err)
	}

	s.vectors = make(map[ID][]float32, len(entries))
	s.metadata = make(map[ID]map[string]any, len(entries))
	s.order = s.order[:0]
	s.nextAutoID = 0

	for _, e := range entries {
		s.vectors[e.ID] = e.Vector
		s.order = append(s.order, e.ID)
		if !e.ID.IsString() && e.ID.Int() >= s.nextAutoID {
			s.nextAutoID = e.ID.Int() + 1
		}
	}
	for key, m := range meta {
		if id, ok := ParseKey(key); ok {
			s.metadata[id] = m
		}
	}

	return nil
}

func readVecFile(path string, compression bool) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compression {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != vecFileVersion {
		return nil, fmt.Errorf("unsupported vec.bin version %d", version)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	var defaultDim int32
	if err := binary.Read(r, binary.BigEndian, &defaultDim); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func readRecord(r io.Reader) (Entry, error) {
	var kind byte
	if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
		return Entry{}, err
	}

	var id ID
	switch kind {
	case idKindString:
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return Entry{}, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Entry{}, err
		}
		id = StringID(string(buf))
	case idKindInt:
		var v uint64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return Entry{}, err
		}
		id = IntID(v)
	default:
		return Entry{}, fmt.Errorf("unknown id kind byte %d", kind)
	}

	var dim uint32
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return Entry{}, err
	}
	vector := make([]float32, dim)
	for i := uint32(0); i < dim; i++ {
		var bits uint32
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return Entry{}, err
		}
		vector[i] = math.Float32frombits(bits)
	}

	return Entry{ID: id, Vector: vector}, nil
}

func readMetaFile(path string, compression bool) (map[string]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compression {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var meta map[string]map[string]any
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// EstimateQuantizedSize reports the approximate byte size of the stored
// vectors if they were scalar-quantized to int8, an off-the-query-path
// diagnostic for operators sizing a future PQ migration. It trains a
// real ScalarQuantizer on a sample so the estimate reflects actual
// per-vector encoded length, but never participates in insert or search.
func (s *Store) EstimateQuantizedSize() int64 {
	s.mu.RLock()
	sample := make([][]float32, 0, 256)
	for _, v := range s.vectors {
		sample = append(sample, v)
		if len(sample) >= 256 {
			break
		}
	}
	count := len(s.vectors)
	s.mu.RUnlock()

	if len(sample) == 0 {
		return 0
	}

	q := quantization.NewScalarQuantizer()
	if err := q.Train(sample); err != nil {
		return 0
	}

	encoded := q.Quantize(sample[0])
	return int64(count) * int64(len(encoded))
}
