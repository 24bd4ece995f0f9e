// Package display identifies the monitors wallpapers can be assigned to.
package display

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
)

// ErrDisplayNotFound is returned by Find for an unknown id
var ErrDisplayNotFound = errors.New("display not found")

// Display is one monitor area of the desktop
type Display struct {
	// ID is the stable output name, e.g. HDMI-1
	ID string `json:"id"`
	// Name is a human readable description
	Name string `json:"name"`
	// Bounds is the area in root window coordinates
	Bounds image.Rectangle `json:"bounds"`
	// Primary marks the primary output
	Primary bool `json:"primary"`
}

// Geometry formats the bounds as WxH+X+Y
func (d Display) Geometry() string {
	return fmt.Sprintf("%dx%d+%d+%d", d.Bounds.Dx(), d.Bounds.Dy(), d.Bounds.Min.X, d.Bounds.Min.Y)
}

// Enumerator lists the connected displays
type Enumerator interface {
	Enumerate() ([]Display, error)
}

// Find returns the display with the given id. An empty id selects the
// primary display.
func Find(displays []Display, id string) (Display, error) {
	if id == "" {
		return Primary(displays)
	}
	for _, d := range displays {
		if strings.EqualFold(d.ID, id) {
			return d, nil
		}
	}
	return Display{}, fmt.Errorf("%w: %s", ErrDisplayNotFound, id)
}

// Primary returns the primary display, or the first one when none is marked
func Primary(displays []Display) (Display, error) {
	if len(displays) == 0 {
		return Display{}, fmt.Errorf("%w: no displays connected", ErrDisplayNotFound)
	}
	for _, d := range displays {
		if d.Primary {
			return d, nil
		}
	}
	return displays[0], nil
}

// arrange orders displays left to right, then top to bottom
func arrange(displays []Display) {
	sort.SliceStable(displays, func(i, j int) bool {
		a, b := displays[i].Bounds.Min, displays[j].Bounds.Min
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
}
