package jsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/driftlab/driftlab/internal/domain"
)

// MetaFileName is the run metadata file written next to the record files.
const MetaFileName = "run.json"

// RunInfo is the metadata half of a results directory: the run row and the
// per-process rows that would otherwise live only in the store.
type RunInfo struct {
	Run       domain.RunMeta       `json:"run"`
	Processes []domain.ProcessMeta `json:"processes,omitempty"`
}

// WriteMeta saves the run metadata atomically, writing a temp file and
// renaming it over the target so readers never see a partial document.
func WriteMeta(dir string, info RunInfo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, MetaFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadMeta loads the run metadata from a results directory. A directory
// without a metadata file yields a zero RunInfo and no error; callers can
// test Run.ID to tell the cases apart.
func ReadMeta(dir string) (RunInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return RunInfo{}, nil
		}
		return RunInfo{}, err
	}

	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return RunInfo{}, err
	}
	return info, nil
}

// ReadRun loads every record file in a results directory, ordered by
// process then file order, which matches the order the store returns.
func ReadRun(dir string) ([]domain.Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id int
		if n, err := fmt.Sscanf(e.Name(), "vm-%d.jsonl", &id); err == nil && n == 1 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no record files in %s", dir)
	}
	sort.Ints(ids)

	var recs []domain.Record
	for _, id := range ids {
		fileRecs, err := ReadFile(filepath.Join(dir, FileName(domain.ProcessID(id))))
		if err != nil {
			return nil, err
		}
		recs = append(recs, fileRecs...)
	}
	return recs, nil
}
