package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/dptrain-ml/dptrain/internal/nn"
	"github.com/dptrain-ml/dptrain/internal/tensor"
)

// Store manages rotating checkpoints in a directory.
type Store struct {
	dir  string
	keep int
}

// NewStore creates the checkpoint directory if needed and keeps at most
// keep snapshots on disk.
func NewStore(dir string, keep int) (*Store, error) {
	if keep < 1 {
		return nil, errors.Errorf("keep must be >= 1, got %d", keep)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint dir")
	}
	return &Store{dir: dir, keep: keep}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes snap at the given virtual step and rotates old snapshots.
func (s *Store) Save(snap *Snapshot, step int) error {
	path := filepath.Join(s.dir, fmt.Sprintf("ckpt-%08d.dptc", step))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err := write(f, snap, step); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write checkpoint")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Rename last so a partially written snapshot never looks valid.
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "finalize checkpoint")
	}
	return s.rotate()
}

// Restore loads the latest snapshot into snap in place and returns its
// step. With no snapshot on disk it returns step 0 and leaves snap
// untouched.
func (s *Store) Restore(snap *Snapshot) (int, error) {
	paths, err := s.list()
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, nil
	}
	latest := paths[len(paths)-1]

	f, err := os.Open(latest)
	if err != nil {
		return 0, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	step, err := read(f, snap)
	if err != nil {
		return 0, errors.Wrapf(err, "restore %s", latest)
	}
	return step, nil
}

// LoadParams restores parameter values from a specific checkpoint file,
// used for finetuning initialization. Entries whose name is rejected by
// skip are ignored (e.g. cutting the classification head), as are
// checkpoint entries with no matching parameter.
func LoadParams(path string, vars *nn.TrainableSet, skip func(name string) bool) error {
	byName := make(map[string]*nn.Param, vars.Len())
	for _, p := range vars.Params() {
		byName[ParamKey(p.Name())] = p
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open finetune checkpoint")
	}
	defer f.Close()

	_, err = scan(f, func(e entry) ([]float64, error) {
		p, ok := byName[e.Name]
		if !ok {
			return nil, nil // Entry has no destination here; discard.
		}
		if skip != nil && skip(p.Name()) {
			return nil, nil
		}
		if !p.Value().Shape().Equal(tensor.Shape(e.Shape)) {
			return nil, errors.Errorf("finetune entry %q shape mismatch: checkpoint %v, live %v",
				e.Name, e.Shape, p.Value().Shape())
		}
		return p.Value().Data(), nil
	})
	return errors.Wrapf(err, "load params from %s", path)
}

// ParamKey is the snapshot key of a parameter name.
func ParamKey(name string) string {
	return "param." + name
}

// OptimKey is the snapshot key of an optimizer state entry.
func OptimKey(key string) string {
	return "optim." + key
}

func (s *Store) list() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "ckpt-*.dptc"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) rotate() error {
	paths, err := s.list()
	if err != nil {
		return err
	}
	for len(paths) > s.keep {
		if err := os.Remove(paths[0]); err != nil {
			return errors.Wrap(err, "rotate checkpoints")
		}
		paths = paths[1:]
	}
	return nil
}
