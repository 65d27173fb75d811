package kvdb

import (
	"fmt"
	"runtime/debug"
	"sync"
)

const (
	VersionMajor = 1
	VersionMinor = 2
	VersionPatch = 0
)

// VersionInfo describes the library build
type VersionInfo struct {
	String string `json:"string"`
	Tag    string `json:"tag"`
	SHA    string `json:"sha"`
	Major  int    `json:"major"`
	Minor  int    `json:"minor"`
	Patch  int    `json:"patch"`
}

var version = sync.OnceValue(func() VersionInfo {
	tag := fmt.Sprintf("v%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
	sha := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				sha = s.Value
			}
		}
	}
	str := tag
	if sha != "unknown" && len(sha) >= 7 {
		str = tag + "-" + sha[:7]
	}
	return VersionInfo{String: str, Tag: tag, SHA: sha, Major: VersionMajor, Minor: VersionMinor, Patch: VersionPatch}
})

// Version returns the version of the library
func Version() VersionInfo {
	return version()
}
