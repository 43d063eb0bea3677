package taint

import (
	internal "github.com/kolkov/gradsan/internal/grad/api"
	"github.com/kolkov/gradsan/internal/grad/config"
)

// Version is the runtime version; configuration files may require a
// minimum version with min_version.
const Version = config.Version

// Info provides runtime information.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Derivatives names the derivative estimation used for operations
	// without a closed form.
	Derivatives string

	// LabelCapacity is the size of the label space.
	LabelCapacity int
}

// GetInfo returns information about the runtime.
//
// Example:
//
//	info := taint.GetInfo()
//	fmt.Printf("gradsan %s (%d labels)\n", info.Version, info.LabelCapacity)
func GetInfo() Info {
	return Info{
		Version:       Version,
		Derivatives:   "one-sided finite differences",
		LabelCapacity: internal.Default().Stats().LabelCapacity,
	}
}
