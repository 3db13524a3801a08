package partitionmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/partition"
)

// configFile mirrors the partition config file's documented fields.
type configFile struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DBDirName   string         `json:"dbDirName"`
	Active      bool           `json:"active"`
	VectorCount int            `json:"vectorCount"`
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	ClusterSize int            `json:"clusterSize,omitempty"`
}

func toConfigFile(c partition.Config) configFile {
	return configFile{
		ID: c.ID, Name: c.Name, DBDirName: c.DBDirName, Active: c.Active,
		VectorCount: c.VectorCount, Description: c.Description,
		Properties: c.Properties, ClusterSize: c.ClusterSize,
	}
}

func fromConfigFile(f configFile) partition.Config {
	return partition.Config{
		ID: f.ID, Name: f.Name, DBDirName: f.DBDirName, Active: f.Active,
		VectorCount: f.VectorCount, Description: f.Description,
		Properties: f.Properties, ClusterSize: f.ClusterSize,
	}
}

func (m *Manager) configPath(id string) string {
	return filepath.Join(m.partitionDir(id), id+".config.json")
}

// saveConfigs writes every known config to disk, debounced to a single
// in-flight operation. A caller that arrives while a save is in flight
// waits for it and returns nil, without writing again and without that
// save's error (unlike vectorstore.Store.Save).
func (m *Manager) saveConfigs() error {
	m.configSaveMu.Lock()
	if m.configSaving != nil {
		done := m.configSaving
		m.configSaveMu.Unlock()
		<-done
		return nil
	}
	done := make(chan struct{})
	m.configSaving = done
	m.configSaveMu.Unlock()

	err := m.saveConfigsNow()

	m.configSaveMu.Lock()
	m.configSaving = nil
	m.configSaveMu.Unlock()
	close(done)

	return err
}

func (m *Manager) saveConfigsNow() error {
	m.mu.Lock()
	configs := make([]partition.Config, 0, len(m.configs))
	for _, c := range m.configs {
		configs = append(configs, c)
	}
	m.mu.Unlock()

	for _, c := range configs {
		if err := writeConfigFile(m.configPath(c.ID), toConfigFile(c)); err != nil {
			return err
		}
	}
	return nil
}

func writeConfigFile(path string, f configFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dberrors.E("partitionmgr.save_config", dberrors.IoError, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return dberrors.E("partitionmgr.save_config", dberrors.IoError, err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dberrors.E("partitionmgr.save_config", dberrors.SerializationError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dberrors.E("partitionmgr.save_config", dberrors.IoError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return dberrors.E("partitionmgr.save_config", dberrors.IoError, err)
	}
	return nil
}

// Load scans PartitionsDir for "<id>/<id>.config.json" files, resolves
// multiple-active conflicts (keep the first found, deactivate the
// rest and save the configs before going on), and pre-loads the active
// partition.
func (m *Manager) Load() error {
	return m.logger.LogOperationWithFields("partitionmgr.load", map[string]interface{}{"dir": m.cfg.PartitionsDir}, func() error {
		entries, err := os.ReadDir(m.cfg.PartitionsDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return dberrors.E("partitionmgr.load", dberrors.IoError, err)
		}

		dirNames := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				dirNames = append(dirNames, e.Name())
			}
		}
		sort.Strings(dirNames)

		configs := make(map[string]partition.Config)
		var activeID string
		conflict := false

		for _, name := range dirNames {
			path := filepath.Join(m.cfg.PartitionsDir, name, name+".config.json")
			data, err := os.ReadFile(path)
			if err != nil {
				continue // not a partition directory (or a partially-created one)
			}
			var f configFile
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			if f.DBDirName != name || f.ID != name {
				m.logger.Warn("partitionmgr: config does not match its directory, skipping", map[string]interface{}{
					"dir": name, "id": f.ID, "dbDirName": f.DBDirName,
				})
				continue
			}
			cfg := fromConfigFile(f)

			if cfg.Active {
				if activeID == "" {
					activeID = cfg.ID
				} else {
					conflict = true
					cfg.Active = false
				}
			}
			configs[cfg.ID] = cfg
		}

		m.mu.Lock()
		m.configs = configs
		m.activeID = activeID
		m.mu.Unlock()

		if conflict {
			m.emit(events.Warn, map[string]any{
				"message": "multiple active partitions found on disk, keeping the first",
			})
			if err := m.saveConfigs(); err != nil {
				return err
			}
		}

		if activeID != "" {
			m.mu.Lock()
			p, err := m.loadPartitionLocked(activeID)
			m.mu.Unlock()
			if err != nil {
				return err
			}
			// Warm the active partition's graph so the first write after a
			// restart lands in the index instead of waiting for a search's
			// lazy load. A partition saved without a graph file comes back
			// as an empty index, which incremental inserts then fill.
			if err := p.LoadIndex(); err != nil {
				m.logger.Warn("partitionmgr: could not preload active partition's index", map[string]interface{}{
					"partition": activeID, "err": err,
				})
			}
		}

		m.emit(events.LoadComplete, map[string]any{"partitions": len(configs)})
		return nil
	})
}
