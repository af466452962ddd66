package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"devsync-go/internal/config"
	"devsync-go/internal/device"
	"devsync-go/internal/util"
)

const defaultDialTimeout = 10 * time.Second

// SSH pushes snapshots by running a mkdir + atomic write command over one session per push.
type SSH struct {
	addr        string
	root        string
	cfg         *ssh.ClientConfig
	dialTimeout time.Duration
	log         zerolog.Logger
	origin      string
	now         func() time.Time
}

// NewSSH builds an SSH transport from explicit remote settings and credentials. It never reads the
// process environment; a password is looked up in creds under remote.PasswordKey.
func NewSSH(remote config.Remote, creds config.Credentials, log zerolog.Logger) (*SSH, error) {
	if remote.Host == "" {
		return nil, errors.New("ssh transport: host is required")
	}
	port := remote.Port
	if port == 0 {
		port = 22
	}

	var auth []ssh.AuthMethod
	if remote.KeyPath != "" {
		keyPath, err := expandHome(remote.KeyPath)
		if err != nil {
			return nil, err
		}
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh transport: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("ssh transport: parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if remote.PasswordKey != "" {
		if pw := creds[remote.PasswordKey]; pw != "" {
			auth = append(auth, ssh.Password(pw))
		}
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh transport: no key_path or password credential configured")
	}

	hostKeys, err := hostKeyCallback(remote)
	if err != nil {
		return nil, err
	}

	dialTimeout := remote.DialTimeout.Std()
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &SSH{
		addr: net.JoinHostPort(remote.Host, strconv.Itoa(port)),
		root: remote.Root,
		cfg: &ssh.ClientConfig{
			User:            remote.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         dialTimeout,
		},
		dialTimeout: dialTimeout,
		log:         log,
		origin:      originHost(),
		now:         time.Now,
	}, nil
}

func hostKeyCallback(remote config.Remote) (ssh.HostKeyCallback, error) {
	if remote.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := remote.KnownHostsPath
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: known hosts: %w", err)
	}
	return cb, nil
}

// Push implements Transport.
func (t *SSH) Push(ctx context.Context, d device.Device) error {
	payload, err := EncodeSnapshot(d, t.origin, t.now())
	if err != nil {
		return newError(ErrRemoteWriteFailed, d.ID, err)
	}

	client, err := t.connect(ctx)
	if err != nil {
		return newError(classifyDialError(err), d.ID, err)
	}
	defer client.Close()
	// closing the client unblocks any pending session I/O once ctx ends
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return newError(ErrConnectionFailed, d.ID, err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = bytes.NewReader(payload)
	session.Stderr = &stderr
	dir := RemoteDir(t.root, d.ID)
	if err := session.Run(writeCommand(dir, SnapshotFile)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return newError(ErrConnectionFailed, d.ID, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return newError(ErrRemoteWriteFailed, d.ID, err)
	}

	t.log.Debug().
		Str("device", d.ID).
		Str("addr", t.addr).
		Str("dir", dir).
		Int("bytes", len(payload)).
		Object("config", util.ConfigShape(d.Config)).
		Msg("snapshot pushed")
	return nil
}

func (t *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(t.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	c, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func classifyDialError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return ErrAuthFailed
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return ErrAuthFailed
	}
	return ErrConnectionFailed
}

// writeCommand creates the device directory idempotently and replaces the snapshot atomically.
func writeCommand(dir, file string) string {
	target := dir + "/" + file
	tmp := target + ".tmp"
	return fmt.Sprintf("umask 077 && mkdir -p %s && cat > %s && mv -f %s %s",
		shellQuote(dir), shellQuote(tmp), shellQuote(tmp), shellQuote(target))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
