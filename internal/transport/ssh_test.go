package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"devsync-go/internal/config"
)

// fakeSSHServer accepts password logins and records exec commands with their stdin.
type fakeSSHServer struct {
	listener net.Listener
	password string
	exitCode uint32
	stall    time.Duration

	mu       sync.Mutex
	commands []string
	payloads [][]byte
}

func startFakeSSH(t *testing.T, password string) *fakeSSHServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSSHServer{listener: ln, password: password}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == s.password {
				return nil, nil
			}
			return nil, fmt.Errorf("bad password")
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSSHServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			return
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *fakeSSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var exec struct{ Command string }
		_ = ssh.Unmarshal(req.Payload, &exec)
		_ = req.Reply(true, nil)
		data, _ := io.ReadAll(ch)
		if s.stall > 0 {
			time.Sleep(s.stall)
		}
		s.mu.Lock()
		s.commands = append(s.commands, exec.Command)
		s.payloads = append(s.payloads, data)
		code := s.exitCode
		s.mu.Unlock()
		if code != 0 {
			_, _ = ch.Stderr().Write([]byte("mkdir: permission denied"))
		}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
		return
	}
}

func (s *fakeSSHServer) remote() config.Remote {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.Remote{
		Kind:                  config.RemoteSSH,
		Host:                  host,
		Port:                  p,
		User:                  "fleet",
		PasswordKey:           "COORD_PASSWORD",
		InsecureIgnoreHostKey: true,
		Root:                  "/srv/fleet/devices",
		DialTimeout:           config.Duration(2 * time.Second),
	}
}

func TestSSHPushRunsAtomicWrite(t *testing.T) {
	srv := startFakeSSH(t, "pw")
	var logs bytes.Buffer
	tr, err := NewSSH(srv.remote(), config.Credentials{"COORD_PASSWORD": "pw"}, zerolog.New(&logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)

	d := sampleDevice()
	require.NoError(t, tr.Push(context.Background(), d))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.commands, 1)
	cmd := srv.commands[0]
	assert.Contains(t, cmd, "mkdir -p '/srv/fleet/devices/cred-0123456789ab'")
	assert.Contains(t, cmd, "mv -f '/srv/fleet/devices/cred-0123456789ab/config.json.tmp' '/srv/fleet/devices/cred-0123456789ab/config.json'")

	var snap Snapshot
	require.NoError(t, json.Unmarshal(srv.payloads[0], &snap))
	assert.Equal(t, d.Config, snap.Config)

	assert.Contains(t, logs.String(), "snapshot pushed")
	assert.NotContains(t, logs.String(), "hunter2")
}

func TestSSHPushAuthFailure(t *testing.T) {
	srv := startFakeSSH(t, "pw")
	tr, err := NewSSH(srv.remote(), config.Credentials{"COORD_PASSWORD": "wrong"}, zerolog.Nop())
	require.NoError(t, err)

	err = tr.Push(context.Background(), sampleDevice())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestSSHPushConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)
	remote := config.Remote{Host: host, Port: p, User: "fleet", PasswordKey: "PW", InsecureIgnoreHostKey: true, Root: "/srv"}
	tr, err := NewSSH(remote, config.Credentials{"PW": "x"}, zerolog.Nop())
	require.NoError(t, err)

	err = tr.Push(context.Background(), sampleDevice())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSSHPushRemoteWriteFailure(t *testing.T) {
	srv := startFakeSSH(t, "pw")
	srv.exitCode = 1
	tr, err := NewSSH(srv.remote(), config.Credentials{"COORD_PASSWORD": "pw"}, zerolog.Nop())
	require.NoError(t, err)

	err = tr.Push(context.Background(), sampleDevice())
	require.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.True(t, strings.Contains(err.Error(), "permission denied"), err.Error())
}

func TestSSHPushStopsAtContextDeadline(t *testing.T) {
	srv := startFakeSSH(t, "pw")
	srv.stall = 2 * time.Second
	tr, err := NewSSH(srv.remote(), config.Credentials{"COORD_PASSWORD": "pw"}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = tr.Push(ctx, sampleDevice())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/srv/it'\''s'`, shellQuote("/srv/it's"))
}
