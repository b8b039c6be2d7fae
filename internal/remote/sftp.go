package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	extPosixRename = "posix-rename@openssh.com"
	extStatVFS     = "statvfs@openssh.com"
)

// ConnectConfig describes how to reach one SFTP endpoint.
type ConnectConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Passphrase string

	KnownHosts            string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

// Addr returns host:port.
func (c ConnectConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SFTPClient implements Client over an SSH connection.
type SFTPClient struct {
	conn *ssh.Client
	sftp *sftp.Client

	posixRename bool
	statVFS     bool
}

var _ Client = (*SFTPClient)(nil)

// Dial opens an SSH connection and starts the sftp subsystem on it.
func Dial(ctx context.Context, cfg ConnectConfig) (*SFTPClient, error) {
	sshConfig, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: sshConfig.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr(), err)
	}

	c, chans, reqs, err := ssh.NewClientConn(raw, cfg.Addr(), sshConfig)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", cfg.Addr(), err)
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := NewSFTPClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// NewSFTPClient starts the sftp subsystem on an established connection.
func NewSFTPClient(conn *ssh.Client) (*SFTPClient, error) {
	sc, err := sftp.NewClient(conn, sftp.UseConcurrentWrites(true))
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	_, posixRename := sc.HasExtension(extPosixRename)
	_, statVFS := sc.HasExtension(extStatVFS)
	return &SFTPClient{
		conn:        conn,
		sftp:        sc,
		posixRename: posixRename,
		statVFS:     statVFS,
	}, nil
}

func clientConfig(cfg ConnectConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := loadSigner(cfg.PrivateKey, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no credentials configured for %s@%s", cfg.Username, cfg.Host)
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}
	return signer, nil
}

func hostKeyCallback(cfg ConnectConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", file, err)
	}
	return cb, nil
}

func (c *SFTPClient) Stat(p string) (*Attributes, error) {
	fi, err := c.sftp.Stat(p)
	if err != nil {
		return nil, wrap("stat", p, err)
	}
	return attributesFromFileInfo(fi), nil
}

func (c *SFTPClient) Lstat(p string) (*Attributes, error) {
	fi, err := c.sftp.Lstat(p)
	if err != nil {
		return nil, wrap("lstat", p, err)
	}
	return attributesFromFileInfo(fi), nil
}

func (c *SFTPClient) Chmod(p string, mode os.FileMode) error {
	return wrap("chmod", p, c.sftp.Chmod(p, mode.Perm()))
}

func (c *SFTPClient) Chtimes(p string, atime, mtime time.Time) error {
	return wrap("chtimes", p, c.sftp.Chtimes(p, atime, mtime))
}

func (c *SFTPClient) ReadDir(p string) ([]DirEntry, error) {
	infos, err := c.sftp.ReadDir(p)
	if err != nil {
		return nil, wrap("readdir", p, err)
	}
	entries := make([]DirEntry, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		entries = append(entries, DirEntry{Name: fi.Name(), Attrs: attributesFromFileInfo(fi)})
	}
	return entries, nil
}

func (c *SFTPClient) OpenFile(p string, flags int) (Stream, error) {
	f, err := c.sftp.OpenFile(p, flags)
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return &sftpStream{File: f}, nil
}

func (c *SFTPClient) Mkdir(p string) error {
	return wrap("mkdir", p, c.sftp.Mkdir(p))
}

func (c *SFTPClient) Remove(p string) error {
	return wrap("remove", p, c.sftp.Remove(p))
}

func (c *SFTPClient) RemoveDirectory(p string) error {
	return wrap("rmdir", p, c.sftp.RemoveDirectory(p))
}

func (c *SFTPClient) Rename(oldPath, newPath string) error {
	return wrap("rename", oldPath, c.sftp.Rename(oldPath, newPath))
}

func (c *SFTPClient) PosixRename(oldPath, newPath string) error {
	if !c.posixRename {
		return fmt.Errorf("posix-rename %s: %w", oldPath, ErrNotSupported)
	}
	return wrap("posix-rename", oldPath, c.sftp.PosixRename(oldPath, newPath))
}

func (c *SFTPClient) ReadLink(p string) (string, error) {
	target, err := c.sftp.ReadLink(p)
	if err != nil {
		return "", wrap("readlink", p, err)
	}
	return target, nil
}

func (c *SFTPClient) StatVFS(p string) (*StatVFS, error) {
	if !c.statVFS {
		return nil, fmt.Errorf("statvfs %s: %w", p, ErrNotSupported)
	}
	st, err := c.sftp.StatVFS(p)
	if err != nil {
		return nil, wrap("statvfs", p, err)
	}
	return &StatVFS{
		Bsize:  st.Bsize,
		Frsize: st.Frsize,
		Blocks: st.Blocks,
		Bfree:  st.Bfree,
		Bavail: st.Bavail,
	}, nil
}

func (c *SFTPClient) Getwd() (string, error) {
	wd, err := c.sftp.Getwd()
	if err != nil {
		return "", wrap("getwd", ".", err)
	}
	return wd, nil
}

// RunCommand opens a session per command. A non-zero exit is reported through
// the status, not the error.
func (c *SFTPClient) RunCommand(ctx context.Context, cmd string) (string, int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", -1, ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), exitErr.ExitStatus(), nil
		}
		if err != nil {
			return "", -1, fmt.Errorf("command %q failed: %w", cmd, err)
		}
		return stdout.String(), 0, nil
	}
}

func (c *SFTPClient) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.conn.Close()
	return errors.Join(sftpErr, sshErr)
}

type sftpStream struct {
	*sftp.File
}

// Flush asks the server to fsync and ignores servers without fsync@openssh.com.
func (s *sftpStream) Flush() error {
	if err := s.File.Sync(); err != nil && classify(err) != ErrNotSupported {
		return wrap("flush", s.File.Name(), err)
	}
	return nil
}

func attributesFromFileInfo(fi os.FileInfo) *Attributes {
	mode := fi.Mode()
	attrs := &Attributes{
		Size:       fi.Size(),
		Mode:       mode.Perm(),
		IsDir:      mode.IsDir(),
		IsSymlink:  mode&os.ModeSymlink != 0,
		IsSocket:   mode&os.ModeSocket != 0,
		ModTime:    fi.ModTime(),
		AccessTime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		attrs.UID = int(st.UID)
		attrs.GID = int(st.GID)
		attrs.AccessTime = time.Unix(int64(st.Atime), 0)
	}
	return attrs
}
