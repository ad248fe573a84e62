package remoteshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/amurg-ai/webshell/pkg/protocol"
)

const (
	termType      = "xterm-256color"
	readChunkSize = 32 * 1024
)

type sshClient struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	conn    *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSSHClient(opts Options) *sshClient {
	return &sshClient{
		opts:   opts,
		logger: opts.Logger.With("component", "remoteshell"),
		done:   make(chan struct{}),
	}
}

// Connect dials the host and authenticates. The whole exchange, including
// the SSH handshake, is bounded by ctx.
func (c *sshClient) Connect(ctx context.Context, cfg protocol.ConnectConfig) error {
	cfg = cfg.WithDefaults()

	auth, err := authMethods(cfg)
	if err != nil {
		return &Error{Kind: KindAuth, Err: err}
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}

	addr := cfg.Addr()
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrap(fmt.Errorf("dial %s: %w", addr, err), KindConnectTimeout)
	}

	// Bound the handshake by the same deadline, and abort it on cancel.
	if dl, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	})
	stop()
	if err != nil {
		_ = netConn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return wrap(fmt.Errorf("ssh handshake with %s: %w", addr, err), KindConnectTimeout)
	}
	_ = netConn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = client.Close()
		return ErrClosed
	}
	c.conn = client
	c.mu.Unlock()

	if c.opts.KeepaliveInterval > 0 {
		go c.keepalive(client)
	}
	return nil
}

// OpenShell requests a PTY and starts the login shell, bounded by ctx.
func (c *sshClient) OpenShell(ctx context.Context, size protocol.TermSize) error {
	c.mu.Lock()
	client := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if client == nil {
		return &Error{Kind: KindTransport, Err: errors.New("not connected")}
	}
	size = size.OrDefault()

	type result struct {
		session *ssh.Session
		stdin   io.WriteCloser
		stdout  io.Reader
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		s, in, out, err := startShell(client, size)
		ch <- result{s, in, out, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// Closing the transport unblocks the pending requests.
		_ = client.Close()
		<-ch
		kind := KindHandshakeTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTransport
		}
		return &Error{Kind: kind, Err: fmt.Errorf("open shell: %w", ctx.Err())}
	}
	if res.err != nil {
		return &Error{Kind: KindTransport, Err: res.err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = res.session.Close()
		return ErrClosed
	}
	c.session, c.stdin, c.stdout = res.session, res.stdin, res.stdout
	return nil
}

func startShell(client *ssh.Client, size protocol.TermSize) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, size.Rows, size.Cols, modes); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("start shell: %w", err)
	}
	return session, stdin, stdout, nil
}

// Attach starts relaying output to sink. It must be called at most once,
// after OpenShell succeeded.
func (c *sshClient) Attach(sink Sink) {
	c.mu.Lock()
	stdout := c.stdout
	c.mu.Unlock()
	if stdout == nil {
		return
	}
	go c.relayStdout(stdout, sink)
}

func (c *sshClient) relayStdout(stdout io.Reader, sink Sink) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.OnData(chunk)
		}
		if err == nil {
			continue
		}
		if c.isClosed() {
			return
		}
		if errors.Is(err, io.EOF) {
			sink.OnClose()
		} else {
			sink.OnError(&Error{Kind: KindStream, Err: err})
		}
		return
	}
}

func (c *sshClient) Write(p []byte) error {
	c.mu.Lock()
	stdin := c.stdin
	closed := c.closed
	c.mu.Unlock()
	if stdin == nil || closed {
		return nil
	}
	if _, err := stdin.Write(p); err != nil {
		return &Error{Kind: KindStream, Err: err}
	}
	return nil
}

func (c *sshClient) Resize(rows, cols int) error {
	c.mu.Lock()
	session := c.session
	closed := c.closed
	c.mu.Unlock()
	if session == nil || closed {
		return nil
	}
	return session.WindowChange(rows, cols)
}

// Close shuts down stdin, the shell session and the transport in that order.
// It is idempotent and safe to call concurrently with Connect.
func (c *sshClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		stdin, session, conn := c.stdin, c.session, c.conn
		c.mu.Unlock()
		close(c.done)

		if stdin != nil {
			_ = stdin.Close()
		}
		if session != nil {
			_ = session.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

func (c *sshClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *sshClient) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Debug("keepalive failed", "error", err)
				return
			}
		}
	}
}

func (c *sshClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.KnownHostsFile == "" {
		c.logger.Warn("host key verification disabled; set ssh.known_hosts_file to enable")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

func authMethods(cfg protocol.ConnectConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		var (
			signer ssh.Signer
			err    error
		)
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("unable to authenticate: parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		pw := cfg.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	return methods, nil
}
