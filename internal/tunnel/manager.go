package tunnel

import (
	"context"
	"fmt"

	"tunnelctl/pkg/logging"
)

// ProcessManager is the subprocess-backed Manager: one Launcher serializing
// launches and one Registry owning the results.
type ProcessManager struct {
	launcher *Launcher
	registry *Registry
}

var _ Manager = (*ProcessManager)(nil)

func NewProcessManager(launcher *Launcher) *ProcessManager {
	return &ProcessManager{
		launcher: launcher,
		registry: NewRegistry(),
	}
}

func (m *ProcessManager) OpenConnection(ctx context.Context, req LaunchRequest) (Tunnel, error) {
	proc, err := m.launcher.Launch(ctx, req)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (m *ProcessManager) AddTunnelToMap(key string, t Tunnel) error {
	if err := m.registry.Add(key, t); err != nil {
		return err
	}
	logging.Info("TunnelManager", "Registered tunnel %s for %q", t.ID(), key)
	return nil
}

func (m *ProcessManager) CloseTunnelsForPlan(key string) {
	CloseTunnels("TunnelManager", key, m.registry.RemoveAll(key))
}

func (m *ProcessManager) TunnelMap() map[string][]Tunnel {
	return m.registry.Snapshot()
}

func (m *ProcessManager) CloseAll() {
	for _, key := range m.registry.Keys() {
		m.CloseTunnelsForPlan(key)
	}
}

// Registry exposes the underlying registry for diagnostics.
func (m *ProcessManager) Registry() *Registry {
	return m.registry
}

// CloseTunnels closes tunnels one after another on behalf of key. A failure
// never stops the remaining tunnels from being closed; failures are logged
// under subsystem and to each tunnel's own build log where it has one.
func CloseTunnels(subsystem, key string, tunnels []Tunnel) {
	if len(tunnels) == 0 {
		logging.Debug(subsystem, "No tunnels registered for %q", key)
		return
	}

	logging.Info(subsystem, "Closing %d tunnel(s) for %q", len(tunnels), key)
	for _, t := range tunnels {
		notify(t, fmt.Sprintf("Closing tunnel %s for %s", t.ID(), key))
		if err := t.Close(); err != nil {
			logging.Error(subsystem, err, "Tunnel %s for %q did not close cleanly", t.ID(), key)
			notify(t, fmt.Sprintf("Tunnel %s did not close cleanly: %v", t.ID(), err))
			continue
		}
		logging.Debug(subsystem, "Closed tunnel %s for %q", t.ID(), key)
	}
}

// BuildLogger is implemented by tunnels that keep the build log they were
// launched with.
type BuildLogger interface {
	BuildLog(line string)
}

func notify(t Tunnel, line string) {
	if bl, ok := t.(BuildLogger); ok {
		bl.BuildLog(line)
	}
}
