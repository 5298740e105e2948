package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHSettings 通过 SSH 执行远端 agent 的参数
type SSHSettings struct {
	User       string
	Port       int
	Password   string
	KeyFile    string
	KnownHosts string
	Command    string
	Timeout    time.Duration
}

type sshSource struct {
	address  string
	settings SSHSettings
}

func (s *sshSource) Describe() string {
	return fmt.Sprintf("SSH %s@%s", s.settings.User, s.address)
}

func (s *sshSource) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.settings.KeyFile != "" {
		key, err := os.ReadFile(s.settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.settings.Password != "" {
		auth = append(auth, ssh.Password(s.settings.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.settings.KnownHosts != "" {
		cb, err := knownhosts.New(s.settings.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            s.settings.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.settings.Timeout,
	}, nil
}

func (s *sshSource) Fetch(ctx context.Context) ([]byte, error) {
	cfg, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	port := s.settings.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(s.address, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: s.settings.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := s.settings.Command
	if command == "" {
		command = "check_mk_agent"
	}
	if err := session.Run(command); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			if exitErr.ExitStatus() == 127 {
				return nil, fmt.Errorf("Program '%s' not found (exit code 127)", command)
			}
			return nil, fmt.Errorf("Agent exited with code %d: %s", exitErr.ExitStatus(), bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("SSH command failed: %w", err)
	}
	return stdout.Bytes(), nil
}
