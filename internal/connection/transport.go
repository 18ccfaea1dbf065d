package connection

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Transport is the narrow seam between the ConnectionManager's lifecycle
// logic and whatever client library speaks the wire protocol. Production
// code uses SSHTransport; tests substitute a fake.
type Transport interface {
	// Open establishes the connection and starts the remote shell. It
	// must respect ctx cancellation and deadline.
	Open(ctx context.Context, cfg ConnectionConfig) error
	// Close tears the connection down. Idempotent.
	Close() error
	// Write sends input bytes to the remote shell.
	Write(p []byte) (int, error)
	// OnData registers the sink for remote output. Must be called before
	// Open; only one sink is supported.
	OnData(fn func(p []byte))
	// Resize changes the remote PTY dimensions.
	Resize(cols, rows uint16) error
}

// TransportFactory produces a fresh Transport per session.
type TransportFactory func() Transport

// Negotiated algorithm sets for SSH transports, ordered by preference.
var (
	sshKeyExchanges = []string{
		"curve25519-sha256", "curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256", "diffie-hellman-group14-sha256",
	}
	sshCiphers = []string{
		"chacha20-poly1305@openssh.com",
		"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
		"aes128-ctr", "aes192-ctr", "aes256-ctr",
	}
	sshMACs = []string{
		"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256", "hmac-sha2-512",
	}
)

// SSHTransport runs an interactive PTY shell over golang.org/x/crypto/ssh.
type SSHTransport struct {
	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	onData  func([]byte)

	keepaliveStop chan struct{}
}

// NewSSHTransport returns a Transport speaking SSH. Matches the
// TransportFactory signature.
func NewSSHTransport() Transport { return &SSHTransport{} }

func (t *SSHTransport) OnData(fn func(p []byte)) {
	t.mu.Lock()
	t.onData = fn
	t.mu.Unlock()
}

// Open dials the host, authenticates, requests a PTY, and starts the
// login shell. Output is delivered to the OnData sink until the
// connection ends.
func (t *SSHTransport) Open(ctx context.Context, cfg ConnectionConfig) error {
	auth, err := authMethods(cfg)
	if err != nil {
		return err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: sshKeyExchanges,
			Ciphers:      sshCiphers,
			MACs:         sshMACs,
		},
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// Dial in a goroutine so ctx cancellation is honoured even while the
	// library blocks inside the handshake.
	var client *ssh.Client
	var dialErr error
	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, clientCfg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("dial %s: %w", addr, ctx.Err())
	case <-dialDone:
		if dialErr != nil {
			return fmt.Errorf("dial %s: %w", addr, dialErr)
		}
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.session = session
	t.stdin = stdin
	sink := t.onData
	t.keepaliveStop = make(chan struct{})
	stop := t.keepaliveStop
	t.mu.Unlock()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 && sink != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				sink(data)
			}
			if err != nil {
				return
			}
		}
	}()

	if cfg.KeepaliveInterval > 0 {
		go t.keepaliveLoop(client, cfg.KeepaliveInterval, stop)
	}

	return nil
}

func authMethods(cfg ConnectionConfig) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	return auth, nil
}

// keepaliveLoop sends a keepalive request at the configured interval until
// the transport closes or a request fails.
func (t *SSHTransport) keepaliveLoop(client *ssh.Client, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

func (t *SSHTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("transport not open")
	}
	return stdin.Write(p)
}

func (t *SSHTransport) Resize(cols, rows uint16) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return fmt.Errorf("transport not open")
	}
	return session.WindowChange(int(rows), int(cols))
}

func (t *SSHTransport) Close() error {
	t.mu.Lock()
	client := t.client
	session := t.session
	stop := t.keepaliveStop
	t.client = nil
	t.session = nil
	t.stdin = nil
	t.keepaliveStop = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if session != nil {
		session.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}
