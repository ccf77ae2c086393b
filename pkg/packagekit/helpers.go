package packagekit

import (
	"os"

	"github.com/pkg/errors"
)

func isDirectory(d string) error {
	dStat, err := os.Stat(d)

	if os.IsNotExist(err) {
		return errors.Wrapf(err, "missing directory %s", d)
	}
	if err != nil {
		return errors.Wrapf(err, "stat %s", d)
	}

	if !dStat.IsDir() {
		return errors.Errorf("%s isn't a directory", d)
	}

	return nil
}
