package process

import (
	"strconv"
	"strings"
)

// userFlagPrefix namespaces pass-through flags so they can't shadow ours
const userFlagPrefix = "--user-"

// LaunchSpec describes one player launch
type LaunchSpec struct {
	// Path is the content location: a local file or a URL
	Path string
	// Online marks Path as remote content
	Online bool
	// DisplayID identifies the target display
	DisplayID string
	// Geometry is the target area as WxH+X+Y
	Geometry string
	// Audio enables sound output
	Audio bool
	// Volume is the initial volume, 0-100
	Volume int
	// DebugPort enables the player's remote inspector when non-zero
	DebugPort int
	// CacheDir is an optional disk cache directory
	CacheDir string
	// PropertiesPath points at the customisation properties file
	PropertiesPath string
	// Verbose asks the player for verbose logging
	Verbose bool
	// ExtraArgs are user supplied and passed through after namespacing
	ExtraArgs []string
}

// Args returns the player command line
func (l LaunchSpec) Args() []string {
	sourceType := "local"
	if l.Online {
		sourceType = "online"
	}

	args := []string{
		"--url", l.Path,
		"--type", sourceType,
		"--display", l.DisplayID,
		"--geometry", l.Geometry,
		"--audio", strconv.FormatBool(l.Audio),
		"--volume", strconv.Itoa(clampVolume(l.Volume)),
	}
	if l.DebugPort > 0 {
		args = append(args, "--debug", strconv.Itoa(l.DebugPort))
	}
	if l.CacheDir != "" {
		args = append(args, "--cache", l.CacheDir)
	}
	if l.PropertiesPath != "" {
		args = append(args, "--property", l.PropertiesPath)
	}
	if l.Verbose {
		args = append(args, "--verbose-log")
	}
	return append(args, NamespaceArgs(l.ExtraArgs)...)
}

// NamespaceArgs rewrites every "--flag" into "--user-flag". Other arguments,
// including single-dash flags and values, pass through untouched.
func NamespaceArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		switch {
		case arg == "":
			continue
		case arg == "--":
			// A bare terminator would end our own flag parsing in the player
			continue
		case strings.HasPrefix(arg, userFlagPrefix):
			out = append(out, arg)
		case strings.HasPrefix(arg, "--"):
			out = append(out, userFlagPrefix+strings.TrimPrefix(arg, "--"))
		default:
			out = append(out, arg)
		}
	}
	return out
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
