package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

// nodeSession is one short-lived text-dialogue connection to a node.
type nodeSession struct {
	conn net.Conn
	r    *bufio.Reader
}

func (ns *nodeSession) sendLine(format string, v ...any) error {
	_, err := fmt.Fprintf(ns.conn, format+"\n", v...)
	return err
}

func (ns *nodeSession) readLine() (string, error) {
	line, err := ns.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (ns *nodeSession) close() {
	_ = ns.sendLine("EXIT")
	ns.conn.Close()
}

// dialogue runs one verb exchange against a node.
type dialogue func(ns *nodeSession, cmdline string) error

// redirected asks the directory for the file's node and runs the dialogue
// there. nargs is the expected argument count; args[0] is the filename.
func (c *Client) redirected(t wire.MsgType, verb string, args []string, nargs int, d dialogue) error {
	if len(args) != nargs {
		fmt.Fprintf(c.out, "Usage: %s <file> ...\n", verb)
		return nil
	}
	return c.nodeCommand(t, verb, args, d)
}

// located is the same flow via LOCATE_FILE, which skips the directory-side
// permission check. Used by the access-request verbs: a user must reach the
// node holding a file they cannot yet read.
func (c *Client) located(verb string, args []string, nargs int, d dialogue) error {
	if len(args) != nargs {
		fmt.Fprintf(c.out, "Usage: %s <file> ...\n", verb)
		return nil
	}
	return c.nodeCommand(wire.MsgLocateFile, verb, args, d)
}

func (c *Client) nodeCommand(t wire.MsgType, verb string, args []string, d dialogue) error {
	addr, err := c.locateNode(t, args[0])
	if err != nil || addr == nil {
		return err
	}

	ns, err := c.dialNode(*addr)
	if err != nil {
		return err
	}
	if ns == nil {
		return nil
	}
	defer ns.close()

	cmdline := verb
	if len(args) > 0 {
		cmdline += " " + strings.Join(args, " ")
	}
	if err := d(ns, cmdline); err != nil {
		fmt.Fprintf(c.out, "Error: storage server connection lost\n")
	}
	return nil
}

// dialNode opens a node connection and authenticates. An unreachable node
// is reported to the directory via SS_DEAD_REPORT; the command is then
// abandoned with a printed message and a nil session.
func (c *Client) dialNode(addr wire.NodeAddr) (*nodeSession, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", addr.String())
	if err != nil {
		fmt.Fprintf(c.out, "Storage server %s unreachable, reporting to directory\n", addr)
		return nil, c.reportDeadNode(addr)
	}

	ns := &nodeSession{conn: conn, r: bufio.NewReader(conn)}
	if err := ns.sendLine("USER %s", c.cfg.Identity); err != nil {
		conn.Close()
		return nil, nil
	}
	reply, err := ns.readLine()
	if err != nil || !strings.HasPrefix(reply, wire.StatusOK) {
		fmt.Fprintf(c.out, "Storage server refused session: %s\n", reply)
		conn.Close()
		return nil, nil
	}
	return ns, nil
}

func (c *Client) reportDeadNode(addr wire.NodeAddr) error {
	payload, err := wire.EncodePayload(&addr)
	if err != nil {
		return err
	}
	reply, _, err := c.request(wire.MsgNodeDeadReport, "", payload)
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		logger.Info("Reported node %s dead to directory", addr)
	}
	return nil
}

// readDialogue prints the file content between the header and END_OF_FILE.
func (c *Client) readDialogue(ns *nodeSession, cmdline string) error {
	if err := ns.sendLine("%s", cmdline); err != nil {
		return err
	}
	status, err := ns.readLine()
	if err != nil {
		return err
	}
	switch {
	case strings.HasSuffix(status, "FILE_CONTENT"):
		for {
			line, err := ns.readLine()
			if err != nil {
				return err
			}
			if line == wire.EndOfFile {
				return nil
			}
			fmt.Fprintln(c.out, line)
		}
	case strings.HasSuffix(status, "EMPTY_FILE"):
		fmt.Fprintln(c.out, "(empty file)")
		return nil
	default:
		fmt.Fprintln(c.out, status)
		return nil
	}
}

// lineDialogue sends the command and prints the single reply line.
func (c *Client) lineDialogue(ns *nodeSession, cmdline string) error {
	if err := ns.sendLine("%s", cmdline); err != nil {
		return err
	}
	reply, err := ns.readLine()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, reply)
	return nil
}

// untilSentinel builds a dialogue that prints every line of a multi-line
// reply up to the sentinel.
func (c *Client) untilSentinel(sentinel string) dialogue {
	return func(ns *nodeSession, cmdline string) error {
		if err := ns.sendLine("%s", cmdline); err != nil {
			return err
		}
		status, err := ns.readLine()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, status)
		if !strings.HasPrefix(status, "OK_2") {
			return nil
		}
		for {
			line, err := ns.readLine()
			if err != nil {
				return err
			}
			if line == sentinel {
				return nil
			}
			fmt.Fprintln(c.out, line)
		}
	}
}

// writeCommand opens an interactive write session: edit lines typed at the
// prompt go to the node until ETIRW commits.
func (c *Client) writeCommand(args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: WRITE <file> <sentence>")
		return nil
	}
	return c.nodeCommand(wire.MsgWrite, "WRITE", args, func(ns *nodeSession, cmdline string) error {
		if err := ns.sendLine("%s", cmdline); err != nil {
			return err
		}
		reply, err := ns.readLine()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, reply)
		if !strings.HasPrefix(reply, wire.StatusOK) {
			return nil
		}

		for {
			fmt.Fprint(c.out, "write> ")
			line, ok := <-c.lines
			if !ok {
				// Input gone; abandon the session without committing.
				return nil
			}
			if line == "" {
				continue
			}
			if err := ns.sendLine("%s", line); err != nil {
				return err
			}
			reply, err := ns.readLine()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, reply)
			if strings.EqualFold(line, "ETIRW") {
				return nil
			}
		}
	})
}

// streamDialogue prints streamed words while forwarding STOP/PAUSE/RESUME
// lines typed by the user.
func (c *Client) streamDialogue(ns *nodeSession, cmdline string) error {
	if err := ns.sendLine("%s", cmdline); err != nil {
		return err
	}
	status, err := ns.readLine()
	if err != nil {
		return err
	}
	if !strings.HasSuffix(status, "STREAM_START") {
		fmt.Fprintln(c.out, status)
		return nil
	}

	nodeLines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := ns.readLine()
			if err != nil {
				readErr <- err
				close(nodeLines)
				return
			}
			nodeLines <- line
			switch line {
			case wire.StreamComplete, wire.StreamStopped:
				close(nodeLines)
				return
			}
		}
	}()

	input := c.lines
	for {
		select {
		case line, ok := <-nodeLines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			fmt.Fprintln(c.out, line)
		case ctl, ok := <-input:
			if !ok {
				input = nil // closed input; stop selecting on it
				continue
			}
			switch strings.ToUpper(ctl) {
			case wire.StreamCtlStop, wire.StreamCtlPause, wire.StreamCtlResume:
				if err := ns.sendLine("%s", strings.ToUpper(ctl)); err != nil {
					return err
				}
			}
		}
	}
}
