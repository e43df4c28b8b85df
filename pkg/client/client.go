// Package client implements the interactive client session machine.
//
// A client holds one long-lived framed connection to the directory. Each
// command either resolves on that link (create, delete, listings, access
// control) or is redirected: the directory answers with a node address and
// the client opens a fresh line-based connection to the node for the
// content dialogue.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

const infoTimeLayout = "2006-01-02 15:04:05"

// Config carries the client's connection parameters.
type Config struct {
	// DirectoryAddr is the directory's host:port.
	DirectoryAddr string

	// Identity is the user name announced on registration.
	Identity string

	// DialTimeout bounds directory and node dials. Zero means no bound.
	DialTimeout time.Duration
}

// Client is one interactive session.
type Client struct {
	cfg  Config
	conn net.Conn
	out  io.Writer

	// User input is funnelled through one channel so the prompt loop and
	// mid-stream control reads never compete for the reader.
	lines  chan string
	closed bool
}

// New builds a client reading commands from in and printing to out.
func New(cfg Config, in io.Reader, out io.Writer) *Client {
	c := &Client{cfg: cfg, out: out, lines: make(chan string)}
	go c.feedInput(in)
	return c
}

func (c *Client) feedInput(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- strings.TrimSpace(scanner.Text())
	}
	close(c.lines)
}

// Connect dials the directory and runs the REGISTER_CLIENT handshake.
func (c *Client) Connect() error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", c.cfg.DirectoryAddr)
	if err != nil {
		return fmt.Errorf("failed to dial directory: %w", err)
	}

	h := wire.NewHeader(wire.MsgRegisterClient, wire.ComponentClient, wire.ComponentDirectory, c.cfg.Identity)
	if err := wire.WriteFrame(conn, h, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send registration: %w", err)
	}
	reply, _, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read registration reply: %w", err)
	}
	if reply.Type != wire.MsgAck {
		conn.Close()
		return fmt.Errorf("directory rejected registration: %s", reply.Name())
	}

	c.conn = conn
	logger.Info("Connected to directory at %s as '%s'", c.cfg.DirectoryAddr, c.cfg.Identity)
	return nil
}

// Close tears down the directory link.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Run is the prompt loop. It returns on EXIT, input EOF, or a dead
// directory link.
func (c *Client) Run() error {
	for {
		fmt.Fprint(c.out, "prosefs> ")
		line, ok := <-c.lines
		if !ok {
			return nil
		}
		if line == "" {
			continue
		}

		verb, rest, _ := strings.Cut(line, " ")
		args := strings.Fields(rest)
		if strings.EqualFold(verb, "EXIT") || strings.EqualFold(verb, "QUIT") {
			return nil
		}
		if err := c.execute(strings.ToUpper(verb), args); err != nil {
			return err
		}
	}
}

// execute runs one parsed command. A returned error means the directory
// link is unusable; command-level failures are printed, not returned.
func (c *Client) execute(verb string, args []string) error {
	switch verb {
	case "CREATE":
		return c.simpleOp(wire.MsgCreate, args, "File created")
	case "DELETE":
		return c.simpleOp(wire.MsgDelete, args, "File deleted")
	case "UNDO":
		return c.simpleOp(wire.MsgUndo, args, "Undo completed")
	case "CREATE_FOLDER":
		return c.simpleOp(wire.MsgCreateFolder, args, "Folder created")

	case "READ":
		return c.redirected(wire.MsgRead, "READ", args, 1, c.readDialogue)
	case "WRITE":
		return c.writeCommand(args)
	case "STREAM":
		return c.redirected(wire.MsgStream, "STREAM", args, 1, c.streamDialogue)
	case "CHECKPOINT":
		return c.redirected(wire.MsgCheckpoint, "CHECKPOINT", args, 2, c.lineDialogue)
	case "REVERT":
		return c.redirected(wire.MsgRevert, "REVERT", args, 2, c.lineDialogue)
	case "VIEWCHECKPOINT":
		return c.redirected(wire.MsgViewCheckpoint, "VIEWCHECKPOINT", args, 2, c.untilSentinel(wire.EndOfCheckpoint))
	case "LISTCHECKPOINTS":
		return c.redirected(wire.MsgListCheckpoints, "LISTCHECKPOINTS", args, 1, c.untilSentinel(wire.EndOfList))

	case "REQUESTACCESS":
		return c.located("REQUESTACCESS", args, 2, c.lineDialogue)
	case "VIEWREQUESTS":
		return c.located("VIEWREQUESTS", args, 1, c.untilSentinel(wire.EndOfRequests))
	case "APPROVEREQUEST":
		return c.located("APPROVEREQUEST", args, 2, c.lineDialogue)
	case "DENYREQUEST":
		return c.located("DENYREQUEST", args, 2, c.lineDialogue)

	case "ADD_ACCESS":
		return c.addAccess(args)
	case "REM_ACCESS":
		return c.remAccess(args)
	case "MOVE_FILE":
		return c.moveFile(args)
	case "MOVE_FOLDER":
		return c.moveFolder(args)

	case "INFO":
		return c.info(args)
	case "LIST":
		return c.textResponse(wire.MsgList, "", nil)
	case "VIEW":
		return c.view(wire.MsgView, "", args)
	case "VIEWFOLDER":
		return c.viewFolder(args)
	case "LOCATE":
		return c.locate(args)
	case "EXEC":
		return c.exec(args)

	case "HELP":
		c.printHelp()
		return nil

	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", verb)
		return nil
	}
}

func (c *Client) printHelp() {
	fmt.Fprint(c.out, `Commands:
  CREATE <file>                    create an empty file
  DELETE <file>                    delete a file you own
  READ <file>                      print file content
  WRITE <file> <sentence>          edit one sentence interactively
  STREAM <file>                    stream words (STOP/PAUSE/RESUME)
  UNDO <file>                      revert the last committed edit
  INFO <file>                      show file metadata
  VIEW [-a] [-l]                   list files in the root folder
  VIEWFOLDER [-a] [-l] <folder>    list files in a folder
  LIST                             list active users
  LOCATE <file>                    show a file's storage address
  ADD_ACCESS <file> <user> -R|-W   grant access (owner only)
  REM_ACCESS <file> <user>         revoke access (owner only)
  REQUESTACCESS <file> -R|-W       ask the owner for access
  VIEWREQUESTS <file>              list pending requests (owner only)
  APPROVEREQUEST <file> <user>     approve a request (owner only)
  DENYREQUEST <file> <user>        deny a request (owner only)
  CREATE_FOLDER <folder>           create a folder
  MOVE_FILE <file> <folder>        move a file into a folder
  MOVE_FOLDER <folder> <dest>      move a folder
  CHECKPOINT <file> <tag>          snapshot current content
  VIEWCHECKPOINT <file> <tag>      print a snapshot
  LISTCHECKPOINTS <file>           list snapshots
  REVERT <file> <tag>              restore a snapshot
  EXEC <file>                      run file content as a command (if enabled)
  EXIT                             quit
`)
}

// request runs one request/response pair on the directory link.
func (c *Client) request(t wire.MsgType, name string, payload []byte) (wire.Header, []byte, error) {
	h := wire.NewHeader(t, wire.ComponentClient, wire.ComponentDirectory, name)
	if err := wire.WriteFrame(c.conn, h, payload); err != nil {
		return wire.Header{}, nil, fmt.Errorf("directory link lost: %w", err)
	}
	reply, body, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.Header{}, nil, fmt.Errorf("directory link lost: %w", err)
	}
	return reply, body, nil
}

// simpleOp sends a filename-only command and prints the outcome.
func (c *Client) simpleOp(t wire.MsgType, args []string, okText string) error {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: <command> <name>")
		return nil
	}
	reply, _, err := c.request(t, args[0], nil)
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		fmt.Fprintf(c.out, "%s: %s\n", okText, args[0])
	} else {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) addAccess(args []string) error {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "Usage: ADD_ACCESS <file> <user> <-R|-W>")
		return nil
	}
	perm, ok := wire.ParsePermissionFlag(args[2])
	if !ok {
		fmt.Fprintln(c.out, "Invalid permission. Use -R for read or -W for write")
		return nil
	}
	payload, err := wire.EncodePayload(&wire.AccessControl{Target: args[1], Permission: perm})
	if err != nil {
		return err
	}
	reply, _, err := c.request(wire.MsgAddAccess, args[0], payload)
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		fmt.Fprintf(c.out, "Granted %s on %s to %s\n", perm, args[0], args[1])
	} else {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) remAccess(args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: REM_ACCESS <file> <user>")
		return nil
	}
	reply, _, err := c.request(wire.MsgRemAccess, args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		fmt.Fprintf(c.out, "Revoked access on %s for %s\n", args[0], args[1])
	} else {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) moveFile(args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: MOVE_FILE <file> <folder>")
		return nil
	}
	reply, _, err := c.request(wire.MsgMoveFile, args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		fmt.Fprintf(c.out, "Moved %s to %s\n", args[0], args[1])
	} else {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) moveFolder(args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: MOVE_FOLDER <src> <dst>")
		return nil
	}
	reply, _, err := c.request(wire.MsgMoveFolder, args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	if reply.Type == wire.MsgAck {
		fmt.Fprintf(c.out, "Moved folder %s to %s\n", args[0], args[1])
	} else {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) info(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: INFO <file>")
		return nil
	}
	reply, body, err := c.request(wire.MsgInfo, args[0], nil)
	if err != nil {
		return err
	}
	if reply.Type != wire.MsgInfoResponse {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
		return nil
	}
	var info wire.FileInfo
	if err := wire.DecodePayload(body, &info); err != nil {
		fmt.Fprintln(c.out, "Error: malformed info response")
		return nil
	}

	fmt.Fprintf(c.out, "File: %s\n", info.Filename)
	fmt.Fprintf(c.out, "  Owner: %s\n", info.Owner)
	if info.NodeIP != "" {
		fmt.Fprintf(c.out, "  Node: %s:%d\n", info.NodeIP, info.NodePort)
	}
	fmt.Fprintf(c.out, "  Words: %d  Chars: %d\n", info.WordCount, info.CharCount)
	if info.Created > 0 {
		fmt.Fprintf(c.out, "  Created: %s\n", time.Unix(info.Created, 0).Format(infoTimeLayout))
	}
	if info.Modified > 0 {
		fmt.Fprintf(c.out, "  Modified: %s\n", time.Unix(info.Modified, 0).Format(infoTimeLayout))
	}
	if info.LastAccessed > 0 {
		fmt.Fprintf(c.out, "  Last accessed: %s by %s\n",
			time.Unix(info.LastAccessed, 0).Format(infoTimeLayout), info.LastAccessedBy)
	}
	for _, e := range info.ACL {
		fmt.Fprintf(c.out, "  Access: %s (%s)\n", e.Identity, e.Permission)
	}
	return nil
}

// textResponse prints a listing reply verbatim.
func (c *Client) textResponse(t wire.MsgType, name string, payload []byte) error {
	reply, body, err := c.request(t, name, payload)
	if err != nil {
		return err
	}
	switch reply.Type {
	case wire.MsgListResponse, wire.MsgViewResponse:
		fmt.Fprint(c.out, string(body))
	default:
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
	}
	return nil
}

func (c *Client) view(t wire.MsgType, folder string, flagArgs []string) error {
	var flags int32
	for _, a := range flagArgs {
		switch a {
		case "-a":
			flags |= wire.ViewFlagAll
		case "-l":
			flags |= wire.ViewFlagLong
		default:
			fmt.Fprintf(c.out, "Unknown flag: %s\n", a)
			return nil
		}
	}
	payload, err := wire.EncodePayload(&wire.ViewRequest{Flags: flags, Folder: folder})
	if err != nil {
		return err
	}
	return c.textResponse(t, folder, payload)
}

func (c *Client) viewFolder(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: VIEWFOLDER <folder> [-a] [-l]")
		return nil
	}
	return c.view(wire.MsgViewFolder, args[0], args[1:])
}

func (c *Client) locate(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: LOCATE <file>")
		return nil
	}
	addr, err := c.locateNode(wire.MsgLocateFile, args[0])
	if err != nil {
		return err
	}
	if addr == nil {
		return nil
	}
	fmt.Fprintf(c.out, "%s is on %s\n", args[0], addr)
	return nil
}

// locateNode asks the directory for a node address via the given message
// type. A nil address with nil error means the directory refused and the
// error text was already printed.
func (c *Client) locateNode(t wire.MsgType, name string) (*wire.NodeAddr, error) {
	reply, body, err := c.request(t, name, nil)
	if err != nil {
		return nil, err
	}
	if reply.Type != wire.MsgReadRedirect && reply.Type != wire.MsgLocateResponse {
		fmt.Fprintf(c.out, "Error: %s\n", reply.Name())
		return nil, nil
	}
	var addr wire.NodeAddr
	if err := wire.DecodePayload(body, &addr); err != nil {
		fmt.Fprintln(c.out, "Error: malformed redirect")
		return nil, nil
	}
	return &addr, nil
}

// exec streams raw command output from the directory until it closes the
// connection, then reconnects and re-authenticates.
func (c *Client) exec(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: EXEC <file>")
		return nil
	}

	h := wire.NewHeader(wire.MsgExec, wire.ComponentClient, wire.ComponentDirectory, args[0])
	if err := wire.WriteFrame(c.conn, h, nil); err != nil {
		return fmt.Errorf("directory link lost: %w", err)
	}

	// The reply is either one MsgError frame or raw output bytes; a
	// header is recognisable by its fixed size and known type values, but
	// the simple discriminator here is the directory's behaviour: errors
	// arrive framed before the connection closes, output arrives raw.
	data, err := io.ReadAll(c.conn)
	if err != nil && len(data) == 0 {
		return fmt.Errorf("directory link lost: %w", err)
	}
	if h, ok := tryDecodeErrorFrame(data); ok {
		fmt.Fprintf(c.out, "Error: %s\n", h.Name())
	} else if len(data) > 0 {
		c.out.Write(data)
	}

	c.Close()
	if err := c.Connect(); err != nil {
		return fmt.Errorf("failed to reconnect after EXEC: %w", err)
	}
	return nil
}

// tryDecodeErrorFrame recognises a framed MsgError in an EXEC reply.
func tryDecodeErrorFrame(data []byte) (wire.Header, bool) {
	h, _, err := wire.ReadFrame(strings.NewReader(string(data)))
	if err != nil || h.Type != wire.MsgError {
		return wire.Header{}, false
	}
	return h, true
}
