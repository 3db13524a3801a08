package hnsw

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

const indexFileVersion uint32 = 1

const (
	idKindInt    byte = 0
	idKindString byte = 1
)

func hnswFileName(compression bool) string {
	if compression {
		return "hnsw.bin.gz"
	}
	return "hnsw.bin"
}

// Save writes the whole graph to dir/hnsw.bin atomically, gzipped to
// dir/hnsw.bin.gz when the index was configured with Compression.
// Tombstoned nodes are elided; parameters and entry points are written
// first so Load can reconstruct dimension groups from the node records
// alone.
func (idx *Index) Save(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dberrors.E("hnsw.save", dberrors.IoError, err)
	}
	path := filepath.Join(dir, hnswFileName(idx.cfg.Compression))

	tmp, err := os.CreateTemp(dir, ".tmp-hnsw-*")
	if err != nil {
		return dberrors.E("hnsw.save", dberrors.IoError, err)
	}
	tmpPath := tmp.Name()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if idx.cfg.Compression {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if err := idx.writeTo(w); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dberrors.E("hnsw.save", dberrors.SerializationError, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return dberrors.E("hnsw.save", dberrors.SerializationError, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dberrors.E("hnsw.save", dberrors.IoError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return dberrors.E("hnsw.save", dberrors.IoError, err)
	}
	return nil
}

func (idx *Index) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, indexFileVersion); err != nil {
		return err
	}
	if err := writeParams(w, idx.cfg); err != nil {
		return err
	}

	if err := writeBool(w, idx.hasGlobalEntry); err != nil {
		return err
	}
	if idx.hasGlobalEntry {
		if err := writeID(w, idx.globalEntry); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, int32(idx.globalLevel)); err != nil {
			return err
		}
	}

	live := make([]*Node, 0, len(idx.nodes))
	for id, node := range idx.nodes {
		if _, tomb := idx.tombstones[id]; tomb {
			continue
		}
		live = append(live, node)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(live))); err != nil {
		return err
	}
	for _, node := range live {
		if err := writeNode(w, node); err != nil {
			return err
		}
	}
	return nil
}

func writeParams(w io.Writer, cfg Config) error {
	for _, v := range []int32{int32(cfg.M), int32(cfg.EfConstruction), int32(cfg.EfSearch), int32(cfg.MaxLevel)} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, cfg.LevelProbability); err != nil {
		return err
	}
	return writeBool(w, cfg.DimensionAware)
}

func writeBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	return binary.Write(w, binary.BigEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v byte
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}

func writeID(w io.Writer, id vectorstore.ID) error {
	if id.IsString() {
		if err := binary.Write(w, binary.BigEndian, idKindString); err != nil {
			return err
		}
		s := id.Str()
		if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := w.Write([]byte(s))
		return err
	}
	if err := binary.Write(w, binary.BigEndian, idKindInt); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, id.Int())
}

func readID(r io.Reader) (vectorstore.ID, error) {
	var kind byte
	if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
		return vectorstore.ID{}, err
	}
	switch kind {
	case idKindString:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return vectorstore.ID{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return vectorstore.ID{}, err
		}
		return vectorstore.StringID(string(buf)), nil
	case idKindInt:
		var v uint64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return vectorstore.ID{}, err
		}
		return vectorstore.IntID(v), nil
	default:
		return vectorstore.ID{}, fmt.Errorf("unknown id kind byte %d", kind)
	}
}

func writeNode(w io.Writer, node *Node) error {
	if err := writeID(w, node.id); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int32(node.level)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(node.dimension)); err != nil {
		return err
	}
	for _, v := range node.vector {
		if err := binary.Write(w, binary.BigEndian, math.Float32bits(v)); err != nil {
			return err
		}
	}

	for level := 0; level <= node.level; level++ {
		neighbors := node.neighborsAt(level)
		if err := binary.Write(w, binary.BigEndian, uint32(len(neighbors))); err != nil {
			return err
		}
		for _, nb := range neighbors {
			if err := writeID(w, nb); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load replaces the graph with the contents of dir/hnsw.bin (or
// dir/hnsw.bin.gz when the index is configured with Compression). A
// missing file leaves the index empty rather than erroring.
func (idx *Index) Load(dir string) error {
	path := filepath.Join(dir, hnswFileName(idx.cfg.Compression))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dberrors.E("hnsw.load", dberrors.IoError, err)
	}
	defer f.Close()

	var r io.Reader = f
	if idx.cfg.Compression {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return dberrors.E("hnsw.load", dberrors.SerializationError, err)
		}
		defer gz.Close()
		r = gz
	}

	if err := idx.readFrom(r); err != nil {
		return dberrors.E("hnsw.load", dberrors.SerializationError, err)
	}
	return nil
}

type pendingNeighbor struct {
	id    vectorstore.ID
	level int
	nb    vectorstore.ID
}

func (idx *Index) readFrom(r io.Reader) error {
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return err
	}
	if version != indexFileVersion {
		return fmt.Errorf("unsupported hnsw.bin version %d", version)
	}

	cfg, err := readParams(r)
	if err != nil {
		return err
	}

	hasGlobal, err := readBool(r)
	if err != nil {
		return err
	}
	var globalEntry vectorstore.ID
	var globalLevel int
	if hasGlobal {
		globalEntry, err = readID(r)
		if err != nil {
			return err
		}
		var lvl int32
		if err := binary.Read(r, binary.BigEndian, &lvl); err != nil {
			return err
		}
		globalLevel = int(lvl)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}

	nodes := make(map[vectorstore.ID]*Node, count)
	dimGroups := make(map[int][]vectorstore.ID)
	perDimEntry := make(map[int]vectorstore.ID)
	perDimLevel := make(map[int]int)
	var pending []pendingNeighbor

	for i := uint32(0); i < count; i++ {
		id, level, dim, vector, neighborLists, err := readNode(r)
		if err != nil {
			return err
		}
		node := newNode(id, vector, level)
		nodes[id] = node
		dimGroups[dim] = append(dimGroups[dim], id)
		if _, ok := perDimEntry[dim]; !ok || level > perDimLevel[dim] {
			perDimEntry[dim] = id
			perDimLevel[dim] = level
		}
		for lvl, nbs := range neighborLists {
			for _, nb := range nbs {
				pending = append(pending, pendingNeighbor{id: id, level: lvl, nb: nb})
			}
		}
	}

	for _, p := range pending {
		node, ok := nodes[p.id]
		if !ok {
			continue
		}
		// Edges to nodes elided at save time (tombstoned then saved) are
		// dropped rather than reconstructed as dangling references.
		if _, ok := nodes[p.nb]; !ok {
			continue
		}
		node.addNeighbor(p.level, p.nb)
	}

	idx.mu.Lock()
	idx.cfg.M = cfg.M
	idx.cfg.EfConstruction = cfg.EfConstruction
	idx.cfg.EfSearch = cfg.EfSearch
	idx.cfg.MaxLevel = cfg.MaxLevel
	idx.cfg.LevelProbability = cfg.LevelProbability
	idx.cfg.DimensionAware = cfg.DimensionAware
	idx.nodes = nodes
	idx.dimGroups = dimGroups
	idx.tombstones = make(map[vectorstore.ID]struct{})
	idx.hasGlobalEntry = hasGlobal
	idx.globalEntry = globalEntry
	idx.globalLevel = globalLevel
	idx.perDimEntry = perDimEntry
	idx.perDimLevel = perDimLevel
	idx.size = len(nodes)
	idx.mu.Unlock()

	return nil
}

func readParams(r io.Reader) (Config, error) {
	var m, efc, efs, maxLevel int32
	for _, v := range []*int32{&m, &efc, &efs, &maxLevel} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return Config{}, err
		}
	}
	var prob float64
	if err := binary.Read(r, binary.BigEndian, &prob); err != nil {
		return Config{}, err
	}
	dimAware, err := readBool(r)
	if err != nil {
		return Config{}, err
	}
	return Config{
		M:                int(m),
		EfConstruction:   int(efc),
		EfSearch:         int(efs),
		MaxLevel:         int(maxLevel),
		LevelProbability: prob,
		DimensionAware:   dimAware,
	}, nil
}

func readNode(r io.Reader) (id vectorstore.ID, level int, dim int, vector []float32, neighbors [][]vectorstore.ID, err error) {
	id, err = readID(r)
	if err != nil {
		return
	}
	var lvl int32
	if err = binary.Read(r, binary.BigEndian, &lvl); err != nil {
		return
	}
	var dimU uint32
	if err = binary.Read(r, binary.BigEndian, &dimU); err != nil {
		return
	}
	level = int(lvl)
	dim = int(dimU)

	vector = make([]float32, dim)
	for i := range vector {
		var bits uint32
		if err = binary.Read(r, binary.BigEndian, &bits); err != nil {
			return
		}
		vector[i] = math.Float32frombits(bits)
	}

	neighbors = make([][]vectorstore.ID, level+1)
	for lc := 0; lc <= level; lc++ {
		var n uint32
		if err = binary.Read(r, binary.BigEndian, &n); err != nil {
			return
		}
		ids := make([]vectorstore.ID, n)
		for i := range ids {
			ids[i], err = readID(r)
			if err != nil {
				return
			}
		}
		neighbors[lc] = ids
	}

	return id, level, dim, vector, neighbors, nil
}
