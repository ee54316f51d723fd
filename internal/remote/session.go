package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sshdeck/sshdeck/internal/config"
	"github.com/sshdeck/sshdeck/internal/logging"
)

const dialTimeout = 15 * time.Second

// Session is one live SSH connection with its SFTP subsystem attached.
type Session struct {
	ID   string
	Name string
	ssh  *ssh.Client
	sftp *sftp.Client
}

// SFTP returns the session's SFTP client.
func (s *Session) SFTP() *sftp.Client { return s.sftp }

// Manager owns the set of live sessions. Sessions are created by Connect and
// cached until closed; every remote operation resolves its session through
// the manager by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logging.Logger
}

// NewManager creates an empty session manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Connect dials cfg, authenticates, opens the SFTP subsystem, and returns the
// new session's ID. password may be empty when key auth is configured.
func (m *Manager) Connect(ctx context.Context, cfg config.SessionConfig, password string) (string, error) {
	auth, err := authMethods(cfg, password)
	if err != nil {
		return "", err
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return "", err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return "", fmt.Errorf("open sftp subsystem: %w", err)
	}

	session := &Session{
		ID:   uuid.NewString(),
		Name: cfg.Name,
		ssh:  sshClient,
		sftp: sftpClient,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.log.Info().Str("session", session.ID).Str("host", cfg.Host).
		Str("user", cfg.User).Msg("session connected")
	return session.ID, nil
}

// Get resolves a live session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Close tears down one session.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.sftp.Close()
	err := s.ssh.Close()
	m.log.Info().Str("session", sessionID).Msg("session closed")
	return err
}

// CloseAll tears down every live session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.sftp.Close()
		if err := s.ssh.Close(); err != nil {
			m.log.Debug().Err(err).Str("session", id).Msg("close")
		}
	}
}

func authMethods(cfg config.SessionConfig, password string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			if password == "" {
				return nil, fmt.Errorf("parse key %s: %w", cfg.KeyPath, err)
			}
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(password))
			if err != nil {
				return nil, fmt.Errorf("parse key %s: %w", cfg.KeyPath, err)
			}
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if password != "" {
		methods = append(methods, ssh.Password(password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth method for %s: need a key path or password", cfg.Host)
	}
	return methods, nil
}

func hostKeyCallback(cfg config.SessionConfig) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve known_hosts: %w", err)
		}
		path = home + "/.ssh/known_hosts"
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}
