package ledger

import (
	"context"
	"os"
	"path/filepath"
)

// FileStore stores the ledger as a JSON file, writes go through a temporary
// file in the same directory followed by a rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) FileStore {
	return FileStore{path: path}
}

func (s FileStore) Load(ctx context.Context) (Ledger, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return WithDefaults(Ledger{})
	}
	if err != nil {
		return Ledger{}, err
	}
	return Decode(data)
}

func (s FileStore) Save(ctx context.Context, l Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	return os.Rename(tmp, s.path)
}

func (s FileStore) Close() error {
	return nil
}
