// Package common holds process-wide helpers shared by the binaries.
package common

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "vns"

// Version is overridden at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"
