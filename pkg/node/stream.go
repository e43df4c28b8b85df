package node

import (
	"strings"
	"time"

	"github.com/prosefs/prosefs/pkg/sentence"
	"github.com/prosefs/prosefs/pkg/wire"
)

// handleStream sends the file word by word with a quiet gap between words.
// During each gap the socket is polled for control lines: STOP ends the
// stream, PAUSE suspends it until RESUME, anything else while paused aborts.
func (s *session) handleStream(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: STREAM <filename>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermRead) {
		s.sendLine("%s Read permission required", wire.StatusForbidden)
		return
	}

	content, err := s.node.store.ReadFile(name, s.user)
	if err != nil {
		s.sendLine("%s Failed to read file", wire.StatusInternalErr)
		return
	}
	if content == "" {
		s.sendLine("%s EMPTY_FILE_STREAM", wire.StatusOK)
		return
	}

	s.sendLine("%s STREAM_START", wire.StatusOK)
	for _, word := range sentence.Fields(content) {
		s.sendLine("%s", word)

		ctl, ok := s.pollControl(s.node.cfg.StreamDelay)
		if !ok {
			continue
		}
		switch ctl {
		case wire.StreamCtlStop:
			s.sendLine("%s", wire.StreamStopped)
			return
		case wire.StreamCtlPause:
			s.sendLine("%s", wire.StreamPaused)
			line, err := s.readLine()
			if err != nil || line != wire.StreamCtlResume {
				s.sendLine("%s", wire.StreamStopped)
				return
			}
			s.sendLine("%s", wire.StreamResumed)
		}
	}
	s.sendLine("%s", wire.StreamComplete)
}

// pollControl waits out the inter-word gap while watching for a control
// line. Returns ok=false when the gap elapsed with no input.
func (s *session) pollControl(gap time.Duration) (string, bool) {
	deadline := time.Now().Add(gap)
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	line, err := s.r.ReadString('\n')
	if err != nil {
		if rest := time.Until(deadline); rest > 0 {
			time.Sleep(rest)
		}
		return "", false
	}
	return strings.TrimSpace(line), true
}
