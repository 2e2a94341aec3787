package codec

import (
	"errors"
	"io/fs"
	"os"
)

// Stage writes data to a temporary file in dir (os.TempDir if empty) and calls fn
// with the path of the file. The file is removed before Stage returns, including
// when writing fails, fn fails or fn panics.
func Stage(dir string, data []byte, fn func(path string) error) (err error) {
	f, err := os.CreateTemp(dir, "ecd-artifact-*")
	if err != nil {
		return err
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return fn(path)
}
