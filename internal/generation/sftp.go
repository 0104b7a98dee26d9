package generation

import (
	"context"
	"fmt"
	"log"
	"net"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/types"
)

// Decrypter recovers the SFTP password from its stored encrypted form.
// Encryption itself is outside the core; deployments plug in their KMS.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// PlaintextDecrypter treats the stored value as the password itself. For dev
// and tests only.
type PlaintextDecrypter struct{}

func (PlaintextDecrypter) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

// Session is one usable SFTP connection.
type Session interface {
	// Upload writes data to remotePath, creating parent directories.
	Upload(remotePath string, data []byte) error
	// Alive reports whether the connection is still usable.
	Alive() bool
	Close() error
}

// Dialer opens SFTP sessions. The production implementation speaks
// ssh+sftp; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, payer *types.Payer, password string) (Session, error)
}

// sessionKey identifies a cached factory. Payers sharing an endpoint and
// account share sessions.
type sessionKey struct {
	payerID  string
	host     string
	port     int
	username string
}

func keyFor(p *types.Payer) sessionKey {
	return sessionKey{payerID: p.ID, host: p.SftpHost, port: p.SftpPort, username: p.SftpUsername}
}

// CachingSessionFactory pools SFTP sessions per payer endpoint. Sessions are
// tested on acquire and redialed when dead. The password is decrypted once,
// when the factory entry is first created.
type CachingSessionFactory struct {
	dialer    Dialer
	decrypter Decrypter
	poolSize  int
	logger    *log.Logger

	mu      sync.Mutex
	entries map[sessionKey]*factoryEntry
}

type factoryEntry struct {
	password string
	idle     []Session
}

// NewCachingSessionFactory creates the process-wide session cache.
func NewCachingSessionFactory(dialer Dialer, decrypter Decrypter, poolSize int, logger *log.Logger) *CachingSessionFactory {
	if poolSize <= 0 {
		poolSize = 5
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CachingSessionFactory{
		dialer:    dialer,
		decrypter: decrypter,
		poolSize:  poolSize,
		logger:    logger,
		entries:   make(map[sessionKey]*factoryEntry),
	}
}

// Acquire returns a live session for the payer, reusing an idle one when it
// still answers.
func (f *CachingSessionFactory) Acquire(ctx context.Context, payer *types.Payer) (Session, error) {
	key := keyFor(payer)

	f.mu.Lock()
	entry, ok := f.entries[key]
	if !ok {
		password, err := f.decrypter.Decrypt(payer.SftpPasswordEnc)
		if err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("sftp: decrypt password for payer %s: %w", payer.ID, err)
		}
		entry = &factoryEntry{password: password}
		f.entries[key] = entry
	}
	var sess Session
	for sess == nil && len(entry.idle) > 0 {
		candidate := entry.idle[len(entry.idle)-1]
		entry.idle = entry.idle[:len(entry.idle)-1]
		if candidate.Alive() {
			sess = candidate
		} else {
			_ = candidate.Close()
		}
	}
	password := entry.password
	f.mu.Unlock()

	if sess != nil {
		return sess, nil
	}
	return f.dialer.Dial(ctx, payer, password)
}

// Release returns a session to the pool, closing it when the pool is full.
func (f *CachingSessionFactory) Release(payer *types.Payer, sess Session) {
	if sess == nil {
		return
	}
	key := keyFor(payer)

	f.mu.Lock()
	entry, ok := f.entries[key]
	if ok && len(entry.idle) < f.poolSize && sess.Alive() {
		entry.idle = append(entry.idle, sess)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	_ = sess.Close()
}

// Evict drops all cached sessions for a payer. Called when the payer's
// configuration changes.
func (f *CachingSessionFactory) Evict(payerID string) {
	f.mu.Lock()
	var stale []Session
	for key, entry := range f.entries {
		if key.payerID == payerID {
			stale = append(stale, entry.idle...)
			delete(f.entries, key)
		}
	}
	f.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
	}
	if len(stale) > 0 {
		f.logger.Printf("sftp: evicted %d sessions for payer %s", len(stale), payerID)
	}
}

// Shutdown closes every cached session.
func (f *CachingSessionFactory) Shutdown() {
	f.mu.Lock()
	var all []Session
	for _, entry := range f.entries {
		all = append(all, entry.idle...)
	}
	f.entries = make(map[sessionKey]*factoryEntry)
	f.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
}

// ConfigChangeHandler subscribes the factory to payer configuration changes.
func (f *CachingSessionFactory) ConfigChangeHandler() eventbus.Handler {
	return &eventbus.HandlerFunc{
		HandlerID:  "sftp-cache-eviction",
		EventTypes: []eventbus.EventType{eventbus.EventPayerConfigChanged},
		Fn: func(ctx context.Context, event *eventbus.Event) error {
			f.Evict(event.PayerID)
			return nil
		},
	}
}

// SSHDialer opens real ssh+sftp sessions with password auth.
type SSHDialer struct {
	ConnectTimeout time.Duration
}

func (d *SSHDialer) Dial(ctx context.Context, payer *types.Payer, password string) (Session, error) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	addr := net.JoinHostPort(payer.SftpHost, strconv.Itoa(payer.SftpPort))
	cfg := &ssh.ClientConfig{
		User:            payer.SftpUsername,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sftp: open subsystem on %s: %w", addr, err)
	}
	return &sshSession{conn: conn, client: client}, nil
}

type sshSession struct {
	conn   *ssh.Client
	client *sftp.Client
}

func (s *sshSession) Upload(remotePath string, data []byte) error {
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := s.client.MkdirAll(dir); err != nil {
			return fmt.Errorf("sftp: mkdir %s: %w", dir, err)
		}
	}
	f, err := s.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: create %s: %w", remotePath, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("sftp: write %s: %w", remotePath, err)
	}
	return f.Close()
}

func (s *sshSession) Alive() bool {
	_, err := s.client.Getwd()
	return err == nil
}

func (s *sshSession) Close() error {
	_ = s.client.Close()
	return s.conn.Close()
}
