package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrEmptyLine is returned when Decode is handed an empty line. An empty
	// read means the stream closed and should never reach the codec.
	ErrEmptyLine = errors.New("empty line")
	// ErrMissingType is returned when the "Type" field is absent
	ErrMissingType = errors.New("missing message type")
	// ErrUnknownType is returned for a discriminant outside the known set
	ErrUnknownType = errors.New("unknown message type")
)

// DecodeError describes a line that could not be turned into a Message
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Encode serializes m as a single-line JSON object with "Type" as the first key
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode nil message")
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Type(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 12)
	buf.WriteString(`{"Type":`)
	buf.WriteString(strconv.Itoa(int(m.Type())))
	if body := bytes.TrimSpace(payload[1 : len(payload)-1]); len(body) > 0 {
		buf.WriteByte(',')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type envelope struct {
	Type *MessageType `json:"Type"`
}

// Decode parses one line into its message variant. Unknown discriminants
// always fail.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, &DecodeError{Err: ErrEmptyLine}
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	if env.Type == nil {
		return nil, &DecodeError{Line: string(line), Err: ErrMissingType}
	}

	var m Message
	switch *env.Type {
	case MsgHwnd:
		m, err := unmarshalAs[Hwnd](line)
		return m, wrap(line, err)
	case MsgConsole:
		m, err := unmarshalAs[Console](line)
		return m, wrap(line, err)
	case MsgWallpaperLoaded:
		m, err := unmarshalAs[WallpaperLoaded](line)
		return m, wrap(line, err)
	case MsgScreenshot:
		m, err := unmarshalAs[Screenshot](line)
		return m, wrap(line, err)
	case CmdReload:
		m = Reload{}
	case CmdClose:
		m = Close{}
	case CmdScreenshot:
		m, err := unmarshalAs[ScreenshotRequest](line)
		return m, wrap(line, err)
	case CmdSuspend:
		m = Suspend{}
	case CmdResume:
		m = Resume{}
	case CmdVolume:
		m, err := unmarshalAs[Volume](line)
		return m, wrap(line, err)
	case CmdSeek:
		m, err := unmarshalAs[Seek](line)
		return m, wrap(line, err)
	case PropSlider:
		m, err := unmarshalAs[Slider](line)
		return m, wrap(line, err)
	case PropTextbox:
		m, err := unmarshalAs[Textbox](line)
		return m, wrap(line, err)
	case PropDropdown:
		m, err := unmarshalAs[Dropdown](line)
		return m, wrap(line, err)
	case PropCheckbox:
		m, err := unmarshalAs[Checkbox](line)
		return m, wrap(line, err)
	case PropColorPicker:
		m, err := unmarshalAs[ColorPicker](line)
		return m, wrap(line, err)
	case PropButton:
		m, err := unmarshalAs[Button](line)
		return m, wrap(line, err)
	default:
		return nil, &DecodeError{
			Line: string(line),
			Err:  fmt.Errorf("%w: %d", ErrUnknownType, int(*env.Type)),
		}
	}
	return m, nil
}

func unmarshalAs[T Message](line []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func wrap(line []byte, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Line: string(line), Err: err}
}
