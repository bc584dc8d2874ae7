package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gridworld-simulator/internal/api"
	"github.com/signalsfoundry/gridworld-simulator/internal/config"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(&out, &errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate", filepath.Join("..", "..", "configs", "topology.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "4 nodes, 4 segments")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
nodes:
  - name: a
    capacity: 10
segments:
  - name: s1
    source: a
    target: ghost
`), 0o600))
	_, err = runCLI(t, "validate", bad)
	assert.Error(t, err)

	_, err = runCLI(t, "validate")
	assert.Error(t, err, "file argument is required")
}

func TestSimulateCommandJSON(t *testing.T) {
	out, err := runCLI(t, "simulate", "--steps", "2", "--supply-pool", "1000", "--fault", "segA@2", "--surge", "transit_hub=0.5")
	require.NoError(t, err)

	var doc api.SnapshotDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, uint64(2), doc.Tick)

	for _, n := range doc.Nodes {
		switch n.Name {
		case "hospital_south":
			assert.Equal(t, 0.0, n.Shortfall)
		case "transit_hub":
			assert.Equal(t, 300.0, n.Demand)
		}
	}
	for _, s := range doc.Segments {
		if s.Name == "segA" {
			assert.True(t, s.Faulted)
			assert.Equal(t, "scripted", s.FaultReason)
		}
	}
}

func TestSimulateCommandYAML(t *testing.T) {
	out, err := runCLI(t, "simulate", "--steps", "3", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "tick: 3")
	assert.Contains(t, out, "name: hospital_south")
}

func TestSimulateCommandRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"simulate", "--surge", "transit_hub"},
		{"simulate", "--surge", "transit_hub=lots"},
		{"simulate", "--fault", "segA@0"},
		{"simulate", "--surge", "nowhere=0.2"},
		{"simulate", "-o", "xml"},
		{"simulate", "--surge-policy", "sometimes"},
	} {
		_, err := runCLI(t, args...)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestParseSurgesAndFaults(t *testing.T) {
	surges, err := parseSurges([]string{"a=0.2", "b=-0.5@4"})
	require.NoError(t, err)
	assert.Equal(t, []scriptedSurge{{Node: "a", Fraction: 0.2, At: 1}, {Node: "b", Fraction: -0.5, At: 4}}, surges)

	faults, err := parseFaults([]string{"segA", "segB@7"})
	require.NoError(t, err)
	assert.Equal(t, []scriptedFault{{Segment: "segA", At: 1}, {Segment: "segB", At: 7}}, faults)

	_, err = parseFaults([]string{"@2"})
	assert.Error(t, err)
}

func TestServiceRunsLoopAndServes(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.Tick = 10 * time.Millisecond
	cfg.SupplyPool = 1000

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	svc, err := NewService(ctx, cfg, logging.Noop())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.World().Tick() >= 2 }, 2*time.Second, 5*time.Millisecond)

	client := &http.Client{Timeout: time.Second}
	defer client.CloseIdleConnections()
	base := "http://" + svc.HTTPAddr()

	resp, err := client.Get(base + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, true, health["running"])

	resp, err = client.Post(base+"/api/event/fault", "application/json", strings.NewReader(`{"seg_id":"segA"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get("http://" + svc.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "gridworld_tick")
	assert.Contains(t, string(body), "gridworld_loop_ticks_total")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestNewServiceFailsOnBadTopology(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = ""
	cfg.MetricsAddr = ""
	cfg.Topology = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewService(t.Context(), cfg, logging.Noop())
	assert.Error(t, err)
}
