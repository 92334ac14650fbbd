// Package hostclient drives a native messaging host from the browser side of
// the pipe: it spawns the host, frames requests onto its stdin and reads the
// framed responses from its stdout.
package hostclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/DevGitPit/supertonic/internal/nativemsg"
	"github.com/DevGitPit/supertonic/internal/protocol"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("host client closed")

const stopGrace = 5 * time.Second

// Options tunes a spawned host.
type Options struct {
	// MaxMessageBytes bounds a response frame. Zero keeps the protocol limit.
	MaxMessageBytes uint32
	// Reinitialize sends initialize to every restarted host.
	Reinitialize bool
}

// Client serializes calls to one host session. The protocol has no request
// ids, so only one request may be outstanding at a time. A spawned host that
// fails or is abandoned is replaced on the next call.
type Client struct {
	mu      sync.Mutex
	sess    *session
	spawn   func() (*session, error)
	reinit  bool
	closed  bool
	lost    error
	healthy atomic.Bool
	log     *slog.Logger
}

type session struct {
	reader *nativemsg.Reader
	writer *nativemsg.Writer
	input  io.Closer
	output io.Closer
	proc   *exec.Cmd
	waited chan struct{}
	once   sync.Once
	err    error
}

// Start launches command as a host process.
func Start(ctx context.Context, command string, opts Options, log *slog.Logger) (*Client, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse host command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("host command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := newClient(opts.Reinitialize, log)
	c.spawn = func() (*session, error) { return c.startProcess(args, opts.MaxMessageBytes) }
	sess, err := c.spawn()
	if err != nil {
		return nil, err
	}
	c.attach(sess)
	return c, nil
}

// New wraps an already connected host. hostOut is the host's stdout and
// hostIn its stdin; closing hostIn ends the host session. A wrapped host
// cannot be restarted.
func New(hostOut io.Reader, hostIn io.WriteCloser, maxSize uint32, log *slog.Logger) *Client {
	c := newClient(false, log)
	c.attach(newSession(hostOut, hostIn, maxSize))
	return c
}

func newClient(reinit bool, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		reinit: reinit,
		log:    log.With(slog.String("component", "hostclient")),
	}
}

func newSession(hostOut io.Reader, hostIn io.WriteCloser, maxSize uint32) *session {
	return &session{
		reader: nativemsg.NewReader(hostOut, maxSize),
		writer: nativemsg.NewWriter(hostIn),
		input:  hostIn,
	}
}

func (c *Client) attach(sess *session) {
	c.sess = sess
	c.lost = nil
	c.healthy.Store(true)
}

func (c *Client) startProcess(args []string, maxSize uint32) (*session, error) {
	proc := exec.Command(args[0], args[1:]...)
	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdin: %w", err)
	}
	// Wait closes the pipes it creates; this one stays open until stop.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("host stdout: %w", err)
	}
	proc.Stdout = stdoutW
	stderr, err := proc.StderrPipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("host stderr: %w", err)
	}
	if err := proc.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("start host: %w", err)
	}
	stdoutW.Close()

	sess := newSession(stdout, stdin, maxSize)
	sess.proc = proc
	sess.output = stdout
	sess.waited = make(chan struct{})
	pid := proc.Process.Pid
	go c.forwardStderr(stderr)
	go func() {
		err := proc.Wait()
		if err != nil {
			c.log.Warn("host process exited", slog.Int("pid", pid), slog.String("error", err.Error()))
		} else {
			c.log.Info("host process exited", slog.Int("pid", pid))
		}
		close(sess.waited)
	}()
	c.log.Info("host process started", slog.String("command", args[0]), slog.Int("pid", pid))
	return sess, nil
}

func (c *Client) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.log.Debug("host", slog.String("stderr", scanner.Text()))
	}
}

type result struct {
	body []byte
	err  error
}

// CallRaw sends one encoded request and returns the encoded response. If ctx
// ends first the session is abandoned, because a late response would pair
// with the next request.
func (c *Client) CallRaw(ctx context.Context, body []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sess == nil {
		if c.spawn == nil {
			return nil, c.lost
		}
		if err := c.restart(ctx); err != nil {
			return nil, err
		}
	}
	return c.roundTrip(ctx, body)
}

// restart replaces a lost session. Callers hold mu.
func (c *Client) restart(ctx context.Context) error {
	sess, err := c.spawn()
	if err != nil {
		c.healthy.Store(false)
		c.log.Error("host restart failed", slog.String("error", err.Error()))
		return fmt.Errorf("restart host: %w", err)
	}
	c.attach(sess)
	c.log.Info("host session restarted", slog.Bool("reinitialize", c.reinit))
	if !c.reinit {
		return nil
	}

	req, err := protocol.Encode(protocol.Document{protocol.FieldCommand: protocol.CommandInitialize})
	if err != nil {
		return fmt.Errorf("encode initialize: %w", err)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	// an initialize failure leaves the host usable, as on first start
	if doc, err := protocol.Decode(resp); err == nil {
		if msg := doc.String(protocol.FieldError, ""); msg != "" {
			c.log.Warn("host reinitialization failed", slog.String("error", msg))
		}
	}
	return nil
}

// roundTrip runs one exchange on the current session. Callers hold mu.
func (c *Client) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	sess := c.sess
	done := make(chan result, 1)
	go func() {
		if err := sess.writer.WriteMessage(body); err != nil {
			done <- result{err: fmt.Errorf("write request: %w", err)}
			return
		}
		resp, err := sess.reader.ReadMessage()
		if err != nil {
			err = fmt.Errorf("read response: %w", err)
		}
		done <- result{body: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.log.Error("host session failed", slog.String("error", r.err.Error()))
			c.drop(r.err)
		}
		return r.body, r.err
	case <-ctx.Done():
		c.log.Warn("abandoning host session", slog.String("error", ctx.Err().Error()))
		c.drop(fmt.Errorf("host session abandoned: %w", ctx.Err()))
		return nil, ctx.Err()
	}
}

// drop stops the current session. Callers hold mu.
func (c *Client) drop(cause error) {
	_ = c.sess.stop(c.log)
	c.sess = nil
	c.lost = cause
	c.healthy.Store(c.spawn != nil)
}

// Call encodes req, sends it and decodes the response.
func (c *Client) Call(ctx context.Context, req protocol.Document) (protocol.Document, error) {
	body, err := protocol.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.CallRaw(ctx, body)
	if err != nil {
		return nil, err
	}
	doc, err := protocol.Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return doc, nil
}

// Initialize asks the host to load its models. An empty dir leaves the
// choice to the host.
func (c *Client) Initialize(ctx context.Context, dir string) error {
	req := protocol.Document{protocol.FieldCommand: protocol.CommandInitialize}
	if dir != "" {
		req[protocol.FieldOnnxDir] = dir
	}
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if msg := resp.String(protocol.FieldError, ""); msg != "" {
		return fmt.Errorf("initialize: %s", msg)
	}
	return nil
}

// Ping checks that the host answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, protocol.Document{protocol.FieldCommand: protocol.CommandPing})
	if err != nil {
		return err
	}
	if status := resp.String(protocol.FieldStatus, ""); status != protocol.StatusPong {
		return fmt.Errorf("unexpected ping response status %q", status)
	}
	return nil
}

// Healthy reports whether the client can still take calls. It does not wait
// for a call in flight.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Close ends the session by closing the host's input and waits for the
// process to exit, killing it after a grace period.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy.Store(false)
	if c.sess == nil {
		return nil
	}
	err := c.sess.stop(c.log)
	c.sess = nil
	return err
}

func (s *session) stop(log *slog.Logger) error {
	s.once.Do(func() {
		s.err = s.input.Close()
		if s.proc == nil {
			return
		}
		defer s.output.Close()
		select {
		case <-s.waited:
		case <-time.After(stopGrace):
			log.Warn("host did not exit, killing", slog.Int("pid", s.proc.Process.Pid))
			_ = s.proc.Process.Kill()
			<-s.waited
		}
	})
	return s.err
}
