// Package connector maintains a jump-host-tunnelled SSH session to a
// cluster front-end, exposing a shell channel and an SFTP channel, with
// liveness probing and reconnection.
package connector

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/subugoe/operandi-go/pkg/hpc"
	"github.com/subugoe/operandi-go/pkg/types"
)

// HostPair is one (proxy, front-end) combination the connector may dial.
type HostPair struct {
	ProxyHost    string
	FrontEndHost string
}

// Config configures a Connector. The same private key authenticates both
// hops.
type Config struct {
	ProxyHosts        []string
	FrontEndHosts     []string
	Username          string // authenticates to the proxy hosts
	ProjectUsername   string // authenticates to the front-end hosts
	KeyPath           string
	KeyPass           string
	ProjectName       string
	ScratchRoot       string
	MaxRounds         int           // retry rounds over the full (proxy, front-end) product; default 30
	ProbeTimeout      time.Duration // default 5s
	SSHConnectTimeout time.Duration // default 10s
	Log               zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 30
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.SSHConnectTimeout <= 0 {
		c.SSHConnectTimeout = 10 * time.Second
	}
}

// Connector holds a live, reconnectable session to the HPC cluster.
type Connector struct {
	cfg    Config
	signer ssh.Signer

	proxyClient    *ssh.Client
	tunnelConn     net.Conn
	frontEndClient *ssh.Client
	sftpClient     *sftp.Client
	lastPair       *HostPair

	// Derived cluster-absolute directories (pure string compositions,
	// stable across sessions).
	UserHomeDir        string
	ProjectRootDir     string
	BatchScriptsDir    string
	SlurmWorkspacesDir string
}

// New validates the private key, derives the cluster paths, and establishes
// the initial connection by iterating every (proxy, front-end) pair.
func New(cfg Config) (*Connector, error) {
	cfg.setDefaults()

	if err := verifyKeyfile(cfg.KeyPath); err != nil {
		return nil, err
	}
	signer, err := loadSigner(cfg.KeyPath, cfg.KeyPass)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAuthFailed, err)
	}

	c := &Connector{
		cfg:                cfg,
		signer:             signer,
		UserHomeDir:        hpc.UserHomeDir(cfg.ProjectUsername),
		ProjectRootDir:     hpc.ProjectRootDir(cfg.ScratchRoot, cfg.ProjectName),
		BatchScriptsDir:    hpc.BatchScriptsDir(cfg.ScratchRoot, cfg.ProjectName),
		SlurmWorkspacesDir: hpc.SlurmWorkspacesDir(cfg.ScratchRoot, cfg.ProjectName),
	}

	if err := c.connectByIteration(); err != nil {
		return nil, err
	}
	return c, nil
}

func verifyKeyfile(keyPath string) error {
	info, err := os.Stat(keyPath)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrKeyfileMissing, keyPath)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", types.ErrKeyfileMissing, keyPath)
	}
	return nil
}

func loadSigner(keyPath, keyPass string) (ssh.Signer, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	if keyPass != "" {
		return ssh.ParsePrivateKeyWithPassphrase(raw, []byte(keyPass))
	}
	return ssh.ParsePrivateKey(raw)
}

// pairs returns the (proxy, front-end) product, with the last successfully
// used pair moved to the front so it is retried first.
func (c *Connector) pairs() []HostPair {
	all := make([]HostPair, 0, len(c.cfg.ProxyHosts)*len(c.cfg.FrontEndHosts))
	for _, proxy := range c.cfg.ProxyHosts {
		for _, frontEnd := range c.cfg.FrontEndHosts {
			all = append(all, HostPair{ProxyHost: proxy, FrontEndHost: frontEnd})
		}
	}
	if c.lastPair == nil {
		return all
	}
	ordered := make([]HostPair, 0, len(all))
	ordered = append(ordered, *c.lastPair)
	for _, p := range all {
		if p != *c.lastPair {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// connectByIteration tries every (proxy, front-end) pair for up to
// cfg.MaxRounds rounds before giving up with ErrConnectUnreachable.
func (c *Connector) connectByIteration() error {
	for round := 0; round < c.cfg.MaxRounds; round++ {
		for _, pair := range c.pairs() {
			if err := c.connectPair(pair); err != nil {
				c.cfg.Log.Error().Err(err).
					Str("proxy_host", pair.ProxyHost).
					Str("front_end_host", pair.FrontEndHost).
					Int("round", round).
					Msg("connection attempt failed, continuing")
				continue
			}
			c.lastPair = &pair
			return nil
		}
	}
	return fmt.Errorf("%w: proxy_hosts=%v front_end_hosts=%v",
		types.ErrConnectUnreachable, c.cfg.ProxyHosts, c.cfg.FrontEndHosts)
}

func (c *Connector) connectPair(pair HostPair) error {
	proxyClient, err := c.dialProxy(pair.ProxyHost)
	if err != nil {
		return err
	}
	tunnelConn, err := proxyClient.Dial("tcp", net.JoinHostPort(pair.FrontEndHost, "22"))
	if err != nil {
		proxyClient.Close()
		return fmt.Errorf("%w: %v", types.ErrTunnelUnreachable, err)
	}
	frontEndClient, err := c.dialFrontEnd(tunnelConn, pair.FrontEndHost)
	if err != nil {
		tunnelConn.Close()
		proxyClient.Close()
		return err
	}
	sftpClient, err := sftp.NewClient(frontEndClient)
	if err != nil {
		frontEndClient.Close()
		proxyClient.Close()
		return fmt.Errorf("%w: sftp: %v", types.ErrFrontendUnreachable, err)
	}

	c.closeAll()
	c.proxyClient = proxyClient
	c.tunnelConn = tunnelConn
	c.frontEndClient = frontEndClient
	c.sftpClient = sftpClient
	return nil
}

func (c *Connector) dialProxy(host string) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // no known_hosts pinning configured for this gateway
		Timeout:         c.cfg.SSHConnectTimeout,
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), cfg)
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: proxy %s: %v", types.ErrAuthFailed, host, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProxyUnreachable, host, err)
	}
	return client, nil
}

func (c *Connector) dialFrontEnd(tunnelConn net.Conn, host string) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            c.cfg.ProjectUsername,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.SSHConnectTimeout,
	}
	addr := net.JoinHostPort(host, "22")
	conn, chans, reqs, err := ssh.NewClientConn(tunnelConn, addr, cfg)
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: front end %s: %v", types.ErrAuthFailed, host, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFrontendUnreachable, host, err)
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied")
}

func (c *Connector) closeAll() {
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	if c.frontEndClient != nil {
		c.frontEndClient.Close()
		c.frontEndClient = nil
	}
	if c.tunnelConn != nil {
		c.tunnelConn.Close()
		c.tunnelConn = nil
	}
	if c.proxyClient != nil {
		c.proxyClient.Close()
		c.proxyClient = nil
	}
}

// isResponsive sends a no-op keepalive request and waits up to ProbeTimeout
// for a reply. A non-responsive client is considered dead even if the
// underlying TCP connection has not yet noticed (ssh keepalive false
// positives are common behind aggressive firewalls).
func (c *Connector) isResponsive(client *ssh.Client) bool {
	if client == nil {
		return false
	}
	result := make(chan bool, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@operandi", true, nil)
		result <- err == nil
	}()
	select {
	case ok := <-result:
		return ok
	case <-time.After(c.cfg.ProbeTimeout):
		return false
	}
}

// EnsureConnected probes transport liveness and, if the probe fails,
// rebuilds in order: proxy session, tunnel, front-end session, and (if
// needed) the SFTP client. The previously used pair is retried first.
func (c *Connector) EnsureConnected() error {
	if c.isResponsive(c.proxyClient) && c.isResponsive(c.frontEndClient) && c.sftpResponsive() {
		return nil
	}
	c.cfg.Log.Warn().Msg("connector probe failed, rebuilding session")
	return c.connectByIteration()
}

func (c *Connector) sftpResponsive() bool {
	if c.sftpClient == nil {
		return false
	}
	_, err := c.sftpClient.Getwd()
	return err == nil
}

// Exec runs a command to completion over the front-end exec channel and
// returns its stdout, stderr, and exit code. Submission and status checks
// are both built on top of this single primitive.
func (c *Connector) Exec(command string) (stdout, stderr string, exitCode int, err error) {
	if err := c.EnsureConnected(); err != nil {
		return "", "", -1, err
	}
	session, err := c.frontEndClient.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: new session: %v", types.ErrFrontendUnreachable, err)
	}
	defer session.Close()

	var outBuf, errBuf strings.Builder
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	runErr := session.Run(command)
	exitCode = 0
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			return outBuf.String(), errBuf.String(), -1, runErr
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, nil
}

// SFTP returns the live SFTP client, reconnecting first if required.
func (c *Connector) SFTP() (*sftp.Client, error) {
	if err := c.EnsureConnected(); err != nil {
		return nil, err
	}
	return c.sftpClient, nil
}

// Close tears down every channel held by the connector.
func (c *Connector) Close() error {
	c.closeAll()
	return nil
}
