package engine

import "fmt"

// Library version, bumped on releases
const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

// Version returns the library version as "major.minor.patch"
func Version() string {
	return fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
}
