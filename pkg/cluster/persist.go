package cluster

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

const clusterFileVersion = 1

type clusterFile struct {
	Version  int             `json:"version"`
	NextKey  uint64          `json:"next_key"`
	Clusters []clusterRecord `json:"clusters"`
}

type clusterRecord struct {
	Key      uint64    `json:"key"`
	Centroid []float32 `json:"centroid"`
	Members  []string  `json:"members"`
}

func clusterPath(dir string) string { return filepath.Join(dir, "cluster.json") }

func gzSuffix(compression bool, path string) string {
	if compression {
		return path + ".gz"
	}
	return path
}

// Save writes the cluster layout to dir/cluster.json atomically, gzipped
// to dir/cluster.json.gz when the store was configured with Compression.
func (s *Store) Save(dir string) error {
	s.mu.RLock()
	file := clusterFile{Version: clusterFileVersion, NextKey: s.nextKey}
	for _, c := range s.clusters {
		rec := clusterRecord{Key: c.Key, Centroid: c.Centroid, Members: make([]string, len(c.Members))}
		for i, m := range c.Members {
			rec.Members[i] = m.Key()
		}
		file.Clusters = append(file.Clusters, rec)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dberrors.E("cluster.save", dberrors.IoError, err)
	}

	path := gzSuffix(s.cfg.Compression, clusterPath(dir))
	tmp, err := os.CreateTemp(dir, ".tmp-cluster-*")
	if err != nil {
		return dberrors.E("cluster.save", dberrors.IoError, err)
	}
	tmpPath := tmp.Name()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if s.cfg.Compression {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(file); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dberrors.E("cluster.save", dberrors.SerializationError, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return dberrors.E("cluster.save", dberrors.SerializationError, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dberrors.E("cluster.save", dberrors.IoError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return dberrors.E("cluster.save", dberrors.IoError, err)
	}

	return nil
}

// Load reads dir/cluster.json (or dir/cluster.json.gz when the store is
// configured with Compression). If the file is missing or carries an
// unrecognized version, the cluster layout is rebuilt incrementally from
// whatever is already in the backing vector store, rather than erroring.
func (s *Store) Load(dir string) error {
	path := gzSuffix(s.cfg.Compression, clusterPath(dir))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildFromStore()
		}
		return dberrors.E("cluster.load", dberrors.IoError, err)
	}

	data := raw
	if s.cfg.Compression {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return s.rebuildFromStore()
		}
		defer gz.Close()
		data, err = io.ReadAll(gz)
		if err != nil {
			return s.rebuildFromStore()
		}
	}

	var file clusterFile
	if err := json.Unmarshal(data, &file); err != nil {
		return s.rebuildFromStore()
	}
	if file.Version != clusterFileVersion {
		return s.rebuildFromStore()
	}

	byKey := make(map[string]vectorstore.ID)
	for _, e := range s.vs.Iter() {
		byKey[e.ID.Key()] = e.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters = make(map[uint64]*Cluster, len(file.Clusters))
	s.owner = make(map[vectorstore.ID]uint64)
	s.nextKey = file.NextKey

	for _, rec := range file.Clusters {
		c := &Cluster{Key: rec.Key, Centroid: rec.Centroid}
		for _, mk := range rec.Members {
			id, ok := byKey[mk]
			if !ok {
				continue // member vector no longer present in the store
			}
			c.Members = append(c.Members, id)
			s.owner[id] = rec.Key
		}
		s.clusters[rec.Key] = c
	}

	return nil
}

// rebuildFromStore reconstructs a fresh cluster layout by replaying every
// vector currently in the backing store through the normal assignment
// rule, used when no cluster.json exists yet or it cannot be trusted.
func (s *Store) rebuildFromStore() error {
	entries := s.vs.Iter()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters = make(map[uint64]*Cluster)
	s.owner = make(map[vectorstore.ID]uint64)
	s.nextKey = 0

	for _, e := range entries {
		s.assignLocked(e.ID, e.Vector)
	}

	return nil
}
