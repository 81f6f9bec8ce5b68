package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/luckyPipewrench/promptgate/internal/audit"
)

// PGATE/1.0 is a line protocol: a command line, RFC-822-style headers, a
// blank line, then an optional byte-counted body. Responses mirror the
// shape with a status line. Verdicts are computed by the same Mitigate
// path as HTTP, so both transports agree on every prompt.
const (
	tcpProto       = "PGATE/1.0"
	maxHeaderLine  = 8 << 10 // includes the line terminator
	maxHeaderCount = 32
	tcpIdleTimeout = 60 * time.Second
)

// errLineTooLong marks a request or header line that overflowed the read
// buffer. Always fatal: the rest of the stream cannot be re-synchronized.
var errLineTooLong = errors.New("line exceeds 8 KiB")

// protocolError is a framing violation. The connection is answered with
// code and detail, then closed, because request boundaries are no longer
// trustworthy after a malformed frame.
type protocolError struct {
	code   int
	detail string
}

func (e *protocolError) Error() string { return e.detail }

type tcpRequest struct {
	command string
	headers map[string]string // keys in canonical MIME form
	body    []byte
}

// StartTCP starts the PGATE/1.0 listener. It returns immediately when
// server.tcp_listen is empty and otherwise blocks until the context is
// cancelled or the listener fails.
func (g *Gateway) StartTCP(ctx context.Context) error {
	cfg := g.cfgPtr.Load()
	if cfg.Server.TCPListen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", cfg.Server.TCPListen)
	if err != nil {
		return err
	}
	return g.serveTCP(ctx, ln)
}

// serveTCP accepts and serves connections on ln until the context is
// cancelled. Split from StartTCP so tests can hand in their own listener.
func (g *Gateway) serveTCP(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, g.cfgPtr.Load().Server.MaxConnections)

	var (
		connMu sync.Mutex
		conns  = make(map[net.Conn]struct{})
		wg     sync.WaitGroup
	)

	// Close the listener and every live connection on cancellation so
	// serveConn loops unblock without waiting out the idle deadline.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
			connMu.Lock()
			for c := range conns {
				c.Close()
			}
			connMu.Unlock()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			g.logger.LogError(audit.SourceTCP, "", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		connMu.Lock()
		conns[conn] = struct{}{}
		connMu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.serveConn(ctx, conn)
			connMu.Lock()
			delete(conns, conn)
			connMu.Unlock()
		}()
	}

	close(done)
	wg.Wait()
	return nil
}

// serveConn answers requests on one connection until the peer quits, the
// idle deadline fires, or a frame cannot be parsed.
func (g *Gateway) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, maxHeaderLine)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout)); err != nil {
			return
		}
		req, err := readTCPRequest(r)
		if err != nil {
			var perr *protocolError
			if errors.As(err, &perr) {
				_ = writeTCPResponse(conn, perr.code, nil, []byte(perr.detail))
			}
			return
		}

		switch req.command {
		case "MITIGATE":
			err = g.tcpMitigate(ctx, conn, req)
		case "HISTORY":
			err = g.tcpHistory(conn, req)
		case "PING":
			err = writeTCPResponse(conn, 200, nil, nil)
		case "QUIT":
			_ = writeTCPResponse(conn, 200, nil, nil)
			return
		default:
			err = writeTCPResponse(conn, 501, nil, []byte(fmt.Sprintf("unknown command %q", req.command)))
		}
		if err != nil {
			return
		}
	}
}

// tcpMitigate evaluates the body as a prompt. A missing User-Id is a
// request error, not a framing error, so the connection stays open.
func (g *Gateway) tcpMitigate(ctx context.Context, conn net.Conn, req *tcpRequest) error {
	userID, ok := req.headers["User-Id"]
	if !ok {
		return writeTCPResponse(conn, 400, nil, []byte("missing required header User-Id"))
	}
	model := req.headers["Model"]
	if model == "" {
		model = defaultModel
	}
	purpose := req.headers["Purpose"]
	if purpose == "" {
		purpose = defaultPurpose
	}

	v := g.Mitigate(ctx, Request{
		Source:    audit.SourceTCP,
		UserID:    userID,
		RequestID: uuid.NewString(),
		Prompt:    string(req.body),
		Model:     model,
		Purpose:   purpose,
	})

	headers := [][2]string{{"Action", string(v.Action)}}
	if v.Reason != "" {
		headers = append(headers, [2]string{"Reason", headerSafe(v.Reason)})
	}
	return writeTCPResponse(conn, 200, headers, []byte(v.PromptOut))
}

// tcpHistory returns the audit tail as the same JSON document /history
// serves. The optional Count header selects the tail length.
func (g *Gateway) tcpHistory(conn net.Conn, req *tcpRequest) error {
	n, _ := strconv.Atoi(req.headers["Count"])
	records := g.History(n)
	body, err := json.Marshal(historyResponse{Count: len(records), Records: records})
	if err != nil {
		return err
	}
	return writeTCPResponse(conn, 200, [][2]string{{"Content-Type", "application/json"}}, body)
}

// readTCPRequest parses one frame. Returned errors are either
// protocolError (answer then close) or I/O errors (close silently).
func readTCPRequest(r *bufio.Reader) (*tcpRequest, error) {
	// Command line. Blank lines before it are tolerated, matching the
	// leniency HTTP servers extend to keep-alive clients.
	var line string
	for {
		var err error
		line, err = readTCPLine(r)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, &protocolError{code: 400, detail: "request line exceeds 8 KiB"}
			}
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			break
		}
	}
	parts := strings.Fields(line)
	if len(parts) != 2 || parts[1] != tcpProto {
		return nil, &protocolError{code: 400, detail: "malformed command line, want <COMMAND> " + tcpProto}
	}
	req := &tcpRequest{command: parts[0], headers: make(map[string]string)}

	for count := 0; ; {
		line, err := readTCPLine(r)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, &protocolError{code: 400, detail: "header line exceeds 8 KiB"}
			}
			return nil, err
		}
		if line == "" {
			break
		}
		count++
		if count > maxHeaderCount {
			return nil, &protocolError{code: 400, detail: fmt.Sprintf("more than %d headers", maxHeaderCount)}
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &protocolError{code: 400, detail: "malformed header line"}
		}
		req.headers[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	if cl, ok := req.headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, &protocolError{code: 400, detail: "invalid Content-Length"}
		}
		if n > maxBodyBytes {
			return nil, &protocolError{code: 413, detail: "body exceeds 1 MiB"}
		}
		req.body = make([]byte, n)
		if _, err := io.ReadFull(r, req.body); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// readTCPLine reads one line without its terminator. CRLF is canonical,
// bare LF is accepted.
func readTCPLine(r *bufio.Reader) (string, error) {
	line, isPrefix, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	if isPrefix {
		return "", errLineTooLong
	}
	return string(line), nil
}

func writeTCPResponse(w io.Writer, code int, headers [][2]string, body []byte) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %d %s\r\n", tcpProto, code, tcpStatusText(code))
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.Write(body)
	_, err := w.Write(b.Bytes())
	return err
}

func tcpStatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 413:
		return "Payload Too Large"
	case 501:
		return "Not Implemented"
	default:
		return "Error"
	}
}

// headerSafe collapses a value to a single header-safe line. Reasons can
// quote config-supplied keywords or phrases, which must not be able to
// inject response framing.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || (r < 0x20 && r != '\t') || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}
