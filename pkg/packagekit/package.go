package packagekit

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PackageOptions is the configuration bundle for one generation run.
//
// The upgrade code must stay constant across every version of a product;
// it is how the installer recognizes a new version as an upgrade rather
// than an unrelated product. It is deployment configuration, passed in
// here, never hard-coded below this layer.
type PackageOptions struct {
	Name           string // product name shown in installer metadata (eg: R-Droid)
	Publisher      string // manufacturer shown in installer metadata
	Version        string // product version; normalized to a numeric x.y.z
	UpgradeCode    string // fixed GUID; derived from publisher+name when empty
	Executable     string // primary executable file name (eg: r-droid.exe)
	InstallDirName string // directory name under Program Files; defaults to Name

	DesktopShortcut   bool
	StartMenuShortcut bool
	AddToPath         bool
}

// Validate normalizes the options in place. The msi format wants a plain
// numeric dotted version, so anything semver-parseable is reduced to
// major.minor.patch.
func (po *PackageOptions) Validate() error {
	if po.Name == "" {
		return errors.New("product name is required")
	}
	if po.Publisher == "" {
		return errors.New("publisher is required")
	}
	if po.Executable == "" {
		return errors.New("executable name is required")
	}
	if po.InstallDirName == "" {
		po.InstallDirName = po.Name
	}

	v, err := semver.NewVersion(po.Version)
	if err != nil {
		return errors.Wrapf(err, "version %q is not a version string", po.Version)
	}
	po.Version = fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())

	if po.UpgradeCode == "" {
		po.UpgradeCode = upgradeCodeFor(po.Publisher, po.Name)
	}
	if _, err := uuid.Parse(po.UpgradeCode); err != nil {
		return errors.Wrapf(err, "upgrade code %q is not a GUID", po.UpgradeCode)
	}

	return nil
}
