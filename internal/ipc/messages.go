// Package ipc defines the messages exchanged between the host and a wallpaper
// player process, one JSON object per line over the player's stdin/stdout.
package ipc

import (
	"fmt"
	"strings"
)

// MessageType is the discriminant carried by every message as its "Type" field
type MessageType int

const (
	MsgHwnd            MessageType = iota // player reports its native window
	MsgConsole                            // player console/log output
	MsgWallpaperLoaded                    // first render finished
	MsgScreenshot                         // result of a CmdScreenshot
	CmdReload
	CmdClose
	CmdScreenshot
	CmdSuspend
	CmdResume
	CmdVolume
	CmdSeek
	PropSlider
	PropTextbox
	PropDropdown
	PropCheckbox
	PropColorPicker
	PropButton
)

var typeNames = [...]string{
	MsgHwnd:            "msg_hwnd",
	MsgConsole:         "msg_console",
	MsgWallpaperLoaded: "msg_wploaded",
	MsgScreenshot:      "msg_screenshot",
	CmdReload:          "cmd_reload",
	CmdClose:           "cmd_close",
	CmdScreenshot:      "cmd_screenshot",
	CmdSuspend:         "cmd_suspend",
	CmdResume:          "cmd_resume",
	CmdVolume:          "cmd_volume",
	CmdSeek:            "cmd_seek",
	PropSlider:         "lp_slider",
	PropTextbox:        "lp_textbox",
	PropDropdown:       "lp_dropdown",
	PropCheckbox:       "lp_checkbox",
	PropColorPicker:    "lp_colorpicker",
	PropButton:         "lp_button",
}

// String returns the wire name of the type
func (t MessageType) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Valid reports whether t is one of the known discriminants
func (t MessageType) Valid() bool {
	return t >= 0 && int(t) < len(typeNames)
}

// ParseType looks up a message type by its wire name
func ParseType(name string) (MessageType, error) {
	for i, n := range typeNames {
		if strings.EqualFold(n, name) {
			return MessageType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message type: %s", name)
}

// Message is implemented by every protocol variant. The set of variants is
// closed; Type is fixed per Go type.
type Message interface {
	Type() MessageType
	isMessage()
}

// ConsoleCategory classifies console output from the player
type ConsoleCategory int

const (
	ConsoleOutput ConsoleCategory = iota
	ConsoleLog
	ConsoleError
)

func (c ConsoleCategory) String() string {
	switch c {
	case ConsoleOutput:
		return "console"
	case ConsoleLog:
		return "log"
	case ConsoleError:
		return "error"
	default:
		return "unknown"
	}
}

// ScreenshotFormat is the image encoding requested from the player
type ScreenshotFormat int

const (
	FormatJPEG ScreenshotFormat = iota
	FormatPNG
	FormatWEBP
	FormatBMP
)

func (f ScreenshotFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	case FormatBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// FormatFromExtension maps a file extension (with or without the dot) to a format
func FormatFromExtension(ext string) (ScreenshotFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWEBP, nil
	case "bmp":
		return FormatBMP, nil
	default:
		return 0, fmt.Errorf("unsupported screenshot extension: %q", ext)
	}
}

// PlaybackPosType selects how a seek position is interpreted
type PlaybackPosType int

const (
	AbsolutePercent PlaybackPosType = iota
	RelativePercent
)

// Hwnd reports the player's top-level native window
type Hwnd struct {
	Hwnd int64 `json:"Hwnd"`
}

// Console carries a line of player console output
type Console struct {
	Message  string          `json:"Message"`
	Category ConsoleCategory `json:"Category"`
}

// WallpaperLoaded reports whether the first render succeeded
type WallpaperLoaded struct {
	Success bool `json:"Success"`
}

// Screenshot is the player's reply to a ScreenshotRequest
type Screenshot struct {
	FileName string `json:"FileName"`
	Success  bool   `json:"Success"`
}

// Reload asks the player to reload its content from the start
type Reload struct{}

// Close asks the player to shut down
type Close struct{}

// ScreenshotRequest asks the player to capture itself into FilePath
type ScreenshotRequest struct {
	Format   ScreenshotFormat `json:"Format"`
	FilePath string           `json:"FilePath"`
	Delay    uint             `json:"Delay"`
}

// Suspend asks the player to stop its own timers and animation
type Suspend struct{}

// Resume reverses Suspend
type Resume struct{}

// Volume sets audio volume, 0-100
type Volume struct {
	Volume int `json:"Volume"`
}

// Seek moves playback to Position (percent)
type Seek struct {
	Position float64         `json:"Position"`
	Kind     PlaybackPosType `json:"Kind"`
}

// Slider updates a numeric customisation property
type Slider struct {
	Name  string  `json:"Name"`
	Value float64 `json:"Value"`
	Step  float64 `json:"Step"`
}

// Textbox updates a text customisation property
type Textbox struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Dropdown updates a selection customisation property
type Dropdown struct {
	Name  string `json:"Name"`
	Value int    `json:"Value"`
}

// Checkbox updates a boolean customisation property
type Checkbox struct {
	Name  string `json:"Name"`
	Value bool   `json:"Value"`
}

// ColorPicker updates a colour customisation property (#RRGGBB)
type ColorPicker struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Button triggers a button customisation property
type Button struct {
	Name      string `json:"Name"`
	IsDefault bool   `json:"IsDefault"`
}

func (Hwnd) Type() MessageType              { return MsgHwnd }
func (Console) Type() MessageType           { return MsgConsole }
func (WallpaperLoaded) Type() MessageType   { return MsgWallpaperLoaded }
func (Screenshot) Type() MessageType        { return MsgScreenshot }
func (Reload) Type() MessageType            { return CmdReload }
func (Close) Type() MessageType             { return CmdClose }
func (ScreenshotRequest) Type() MessageType { return CmdScreenshot }
func (Suspend) Type() MessageType           { return CmdSuspend }
func (Resume) Type() MessageType            { return CmdResume }
func (Volume) Type() MessageType            { return CmdVolume }
func (Seek) Type() MessageType              { return CmdSeek }
func (Slider) Type() MessageType            { return PropSlider }
func (Textbox) Type() MessageType           { return PropTextbox }
func (Dropdown) Type() MessageType          { return PropDropdown }
func (Checkbox) Type() MessageType          { return PropCheckbox }
func (ColorPicker) Type() MessageType       { return PropColorPicker }
func (Button) Type() MessageType            { return PropButton }

func (Hwnd) isMessage()              {}
func (Console) isMessage()           {}
func (WallpaperLoaded) isMessage()   {}
func (Screenshot) isMessage()        {}
func (Reload) isMessage()            {}
func (Close) isMessage()             {}
func (ScreenshotRequest) isMessage() {}
func (Suspend) isMessage()           {}
func (Resume) isMessage()            {}
func (Volume) isMessage()            {}
func (Seek) isMessage()              {}
func (Slider) isMessage()            {}
func (Textbox) isMessage()           {}
func (Dropdown) isMessage()          {}
func (Checkbox) isMessage()          {}
func (ColorPicker) isMessage()       {}
func (Button) isMessage()            {}
