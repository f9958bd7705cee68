package discovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/scriptdeck/internal/process"
)

// RequirementsFile is the per-folder dependency list picked up by Scan.
const RequirementsFile = "requirements.txt"

// Script is one discovered script as shown by the dashboard.
type Script struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	Folder          string `json:"folder"`
	HasRequirements bool   `json:"has_requirements"`
	Running         bool   `json:"running"`
}

// Process converts the discovery result into a launch target.
func (s Script) Process() process.Script {
	return process.Script{ID: s.Name, Path: s.Path, Folder: s.Folder}
}

// Scan walks root and returns every *.py file sorted by name. Scripts at the
// top level are named by file name; nested ones by "<parent dir>/<file>" and
// run from their own folder. Hidden directories and __pycache__ are skipped.
// When two nested scripts produce the same name the first path wins.
// A missing root yields no scripts.
func Scan(root string) ([]Script, error) {
	var out []Script
	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ".py" {
			return nil
		}

		dir := filepath.Dir(path)
		s := Script{Name: d.Name(), Path: path}
		if dir != filepath.Clean(root) {
			s.Name = filepath.Base(dir) + "/" + d.Name()
			s.Folder = dir
		}
		if seen[s.Name] {
			return nil
		}
		seen[s.Name] = true
		if _, err := os.Stat(filepath.Join(dir, RequirementsFile)); err == nil {
			s.HasRequirements = true
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__pycache__"
}
