package vmm

import (
	"io"
	"time"
	"unicode"
)

// ConsoleInput delivers lines of input to the guest. The session state
// machine is transport-agnostic: the serial console and the control
// channel's synthetic keystrokes drive the same protocol.
type ConsoleInput interface {
	SendLine(text string) error
}

// ptyInput writes directly to the serial console.
type ptyInput struct {
	w io.Writer
}

func (p *ptyInput) SendLine(text string) error {
	_, err := io.WriteString(p.w, text+"\n")
	return err
}

// sendKeyInput types through the control channel's sendkey command, one
// keystroke per request. Slower than console writes but usable when the
// guest image has no serial console configured.
type sendKeyInput struct {
	channel  controlChannel
	keyDelay time.Duration
}

func (s *sendKeyInput) SendLine(text string) error {
	for _, r := range text + "\n" {
		key, ok := keyName(r)
		if !ok {
			// No sendkey name for this character; skip it rather than
			// desynchronize the whole line.
			continue
		}
		if err := s.channel.Send("sendkey " + key); err != nil {
			return err
		}
		time.Sleep(s.keyDelay)
	}
	return nil
}

// keyName maps a character to the control channel's key name.
func keyName(r rune) (string, bool) {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return string(r), true
	case r >= 'A' && r <= 'Z':
		return "shift-" + string(unicode.ToLower(r)), true
	}

	switch r {
	case ' ':
		return "spc", true
	case '-':
		return "minus", true
	case '/':
		return "slash", true
	case '.':
		return "dot", true
	case '_':
		return "shift-minus", true
	case '\n':
		return "ret", true
	}
	return "", false
}
