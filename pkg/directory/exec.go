package directory

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

// shellMeta are the characters the restricted runner refuses. The command
// line is split on whitespace and run as argv directly, never through a
// shell, so none of these can carry their shell meaning anyway; rejecting
// them keeps the intent of a command file unambiguous.
const shellMeta = "|&;<>()$`\\\"'*?~#"

// handleExec runs the file's content as a local command and streams the
// combined output back as raw bytes. The connection is closed afterwards;
// the client must reconnect and re-authenticate.
func (cs *clientSession) handleExec(name string) {
	if !cs.srv.cfg.EnableExec {
		_ = cs.fail(errExecDisabled)
		return
	}

	ok, err := cs.srv.index.Check(name, cs.identity, wire.PermRead)
	if err != nil {
		_ = cs.fail(errFileNotFound)
		return
	}
	if !ok {
		_ = cs.fail(errReadRequired)
		return
	}

	slot, err := cs.slotFor(name)
	if err != nil {
		_ = cs.fail(errNodeInactive)
		return
	}
	req := wire.NewHeader(wire.MsgInternalRead, wire.ComponentDirectory, wire.ComponentNode, name)
	rep, err := slot.Do(req, nil)
	if err != nil || rep.Header.Type != wire.MsgInternalData {
		_ = cs.fail(errNodeInactive)
		return
	}

	output, err := cs.srv.runCommand(string(rep.Payload))
	if err != nil {
		logger.Warn("EXEC of '%s' for '%s' failed: %v", name, cs.identity, err)
	}
	if len(output) > 0 {
		_, _ = cs.conn.Write(output)
		return
	}
	// A refused or silently failing command still owes the client an
	// answer before the connection closes.
	if err != nil {
		_ = cs.fail(execErrorText(err))
	}
}

func execErrorText(err error) string {
	switch {
	case errors.Is(err, errEmptyCommand):
		return "File contains no command."
	case errors.Is(err, errUnsafeCommand):
		return "Command rejected: shell metacharacters are not allowed."
	default:
		return "Execution failed."
	}
}

// runCommand executes one command line under the restricted runner: no
// shell, no metacharacters, bounded by the configured timeout. Combined
// output is returned even when the command itself failed.
func (s *Server) runCommand(content string) ([]byte, error) {
	line := strings.TrimSpace(content)
	if line == "" {
		return nil, errEmptyCommand
	}
	if strings.ContainsAny(line, shellMeta) || strings.ContainsAny(line, "\n\r") {
		return nil, errUnsafeCommand
	}

	argv := strings.Fields(line)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return cmd.CombinedOutput()
}
