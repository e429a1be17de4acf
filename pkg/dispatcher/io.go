package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/golemfactory/gwasm-runner/pkg/task"
)

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// dirOf returns the directory containing path, with a trailing separator
// so it can be concatenated directly onto a relative Output path by
// task.Def.RebaseOutput.
func dirOf(path string) string {
	return filepath.Dir(path) + string(filepath.Separator)
}

func readDef(path string) (task.Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d task.Def
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrapf(err, "decoding task descriptor %s", path)
	}
	return d, nil
}

func readDefs(path string) ([]task.Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds []task.Def
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, errors.Wrapf(err, "decoding task descriptor list %s", path)
	}
	return ds, nil
}

func writeDef(path string, d task.Def) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeDefs(path string, ds []task.Def) error {
	b, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
