package version

import (
	"fmt"
	"runtime"
)

// Version represents the current version of the connector.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// ConnectorVersion is the current version of the qemu connector.
var ConnectorVersion = Version{
	Major: "0", Minor: "2", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go runtime the tool was built with.
func BuildInfo() string {
	return runtime.Version()
}
