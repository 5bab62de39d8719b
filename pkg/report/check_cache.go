// pkg/report/check_cache.go
// Record caching for multi-host runs and the JSON sidecar written next to each report

package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// CheckCache provides thread-safe caching of per-host records during a multi-host run
type CheckCache struct {
	mu      sync.RWMutex
	records map[string]*Record
	reports map[string]string
}

// NewCheckCache creates an empty cache
func NewCheckCache() *CheckCache {
	return &CheckCache{
		records: make(map[string]*Record),
		reports: make(map[string]string),
	}
}

// Put stores the record of hostID and the path of its report, if one was written
func (c *CheckCache) Put(hostID string, rec *Record, reportPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[hostID] = rec
	if reportPath != "" {
		c.reports[hostID] = reportPath
	}
}

// Get retrieves the cached record of hostID
func (c *CheckCache) Get(hostID string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[hostID]
	return rec, ok
}

// ReportPath returns the report written for hostID
func (c *CheckCache) ReportPath(hostID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.reports[hostID]
	return p, ok
}

// HostIDs returns the cached host ids, sorted
func (c *CheckCache) HostIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns how many hosts are cached
func (c *CheckCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// sidecarPath is the JSON file kept in a .data subdirectory beside the report
func sidecarPath(outputPath string) string {
	return filepath.Join(filepath.Dir(outputPath), ".data", filepath.Base(outputPath)+".json")
}

// SaveRecord writes rec as JSON beside the report at outputPath and returns the file path
func SaveRecord(outputPath string, rec *Record) (string, error) {
	jsonFile := sidecarPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(jsonFile), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create data directory")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal check record")
	}

	// Records carry raw log lines
	if err := os.WriteFile(jsonFile, data, 0600); err != nil {
		return "", errors.Wrap(err, "failed to write check record")
	}

	return jsonFile, nil
}

// LoadRecord reads the JSON sidecar of the report at outputPath
func LoadRecord(outputPath string) (*Record, error) {
	data, err := os.ReadFile(sidecarPath(outputPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read check record")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal check record")
	}
	return &rec, nil
}
