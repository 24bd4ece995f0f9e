package player

import (
	"fmt"
	"strings"
)

// ContentKind is the category of content a player renders
type ContentKind string

const (
	// KindWeb is HTML content in an embedded browser
	KindWeb ContentKind = "web"
	// KindVideo is video, gif and stream content in a media player
	KindVideo ContentKind = "video"
	// KindApp is a standalone application reparented onto the desktop
	KindApp ContentKind = "app"
)

// Kinds lists every supported kind
var Kinds = []ContentKind{KindWeb, KindVideo, KindApp}

// Policy holds the per-kind behaviour differences of a session
type Policy struct {
	// GracefulClose sends cmd_close and waits before killing. The browser
	// player can crash when killed mid-shutdown; other players are killed
	// outright.
	GracefulClose bool
	// NeedsInput requires an input window under the top-level window
	NeedsInput bool
	// ChildScreenshot means the player writes screenshots itself; otherwise
	// the host captures the window.
	ChildScreenshot bool
}

var policies = map[ContentKind]Policy{
	KindWeb:   {GracefulClose: true, NeedsInput: true, ChildScreenshot: true},
	KindVideo: {ChildScreenshot: true},
	KindApp:   {},
}

// Policy returns the behaviour of sessions of this kind
func (k ContentKind) Policy() Policy {
	return policies[k]
}

// ParseKind parses a kind name
func ParseKind(s string) (ContentKind, error) {
	k := ContentKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := policies[k]; !ok {
		return "", fmt.Errorf("unknown content kind: %q", s)
	}
	return k, nil
}
