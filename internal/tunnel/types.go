package tunnel

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Credentials identify the remote service account a tunnel is opened for.
// String and GoString never print the access key.
type Credentials struct {
	Username  string
	AccessKey string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s:****", c.Username)
}

func (c Credentials) GoString() string {
	return fmt.Sprintf("tunnel.Credentials{Username:%q, AccessKey:\"****\"}", c.Username)
}

// Validate reports whether both fields are set.
func (c Credentials) Validate() error {
	if c.Username == "" || c.AccessKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Forward describes the port mapping used by the SSH generation.
type Forward struct {
	Host       string // local host the remote side is forwarded to
	LocalPort  int
	RemotePort int
	Domain     string // remote bind address
}

// LaunchRequest carries everything a single OpenConnection call needs.
// It is not retained after the call returns; only Log is kept by the
// resulting tunnel for teardown messages.
type LaunchRequest struct {
	Credentials      Credentials
	Options          string // extra CLI options, split without a shell
	WorkingDirectory string // overrides the configured working directory
	Verbose          bool
	Forward          Forward
	Log              io.Writer // build log; nil discards
}

// Info is a point-in-time description of a tunnel used for diagnostics.
type Info struct {
	ID         string    `json:"id"`
	Generation string    `json:"generation"`
	PID        int       `json:"pid,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	LaunchedAt time.Time `json:"launchedAt"`
	Ready      bool      `json:"ready"`
	Closed     bool      `json:"closed"`
}

// Tunnel is a live tunnel owned by the registry once added.
type Tunnel interface {
	ID() string
	Info() Info
	// Close releases the tunnel. It is safe to call more than once.
	Close() error
}

// Manager is the contract consumed by build orchestration code.
type Manager interface {
	// OpenConnection launches a tunnel. The caller registers it with AddTunnelToMap.
	OpenConnection(ctx context.Context, req LaunchRequest) (Tunnel, error)
	// AddTunnelToMap records t under key.
	AddTunnelToMap(key string, t Tunnel) error
	// CloseTunnelsForPlan removes key and closes all its tunnels. Absent keys are a no-op.
	CloseTunnelsForPlan(key string)
	// TunnelMap returns a copy of the key to tunnels mapping.
	TunnelMap() map[string][]Tunnel
	// CloseAll tears down every registered key.
	CloseAll()
}
