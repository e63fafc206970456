package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/platform"
	"github.com/bbque/rtrm/pkg/rpc"
	"github.com/bbque/rtrm/pkg/security"
	"github.com/bbque/rtrm/pkg/types"
)


const testRecipeYAML = `
name: test-recipe
awms:
  - id: 0
    value: 0.3
    requests:
      - path: sys0.cpu0.pe0
        amount: 10
  - id: 1
    value: 0.9
    requests:
      - path: sys0.cpu0.pe0
        amount: 50
`

type fakeProxy struct {
	nodes []platform.NodeCapacity
}

func (f *fakeProxy) LoadPlatformData(ctx context.Context) (platform.Description, error) {
	return platform.Description{Nodes: f.nodes}, nil
}
func (f *fakeProxy) Refresh(ctx context.Context) (platform.Description, error) {
	return platform.Description{Nodes: f.nodes}, nil
}
func (f *fakeProxy) Setup(ctx context.Context, exc *types.EXC) error { return nil }
func (f *fakeProxy) Release(ctx context.Context, exc *types.EXC) error { return nil }
func (f *fakeProxy) MapResources(ctx context.Context, exc *types.EXC, bound []types.ResourceRequest, exclusive bool) error {
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())
	cfg := Config{
		SysID:      0,
		InstanceID: "test-instance",
		DistributedManager: DistributedManagerConfig{
			StartAddress:          "10.0.0.5",
			EndAddress:            "10.0.0.8",
			LocalAddress:          "10.0.0.6",
			DiscoverPeriodSeconds: 30,
			PingPeriodSeconds:     10,
		},
		AgentProxy: AgentProxyConfig{Port: 30100},
	}
	m, err := New(cfg, NewResourceTree(), NewEventBroker(), &fakeProxy{}, ca)
	require.NoError(t, err)
	return m
}

func TestNewRejectsInvalidAddresses(t *testing.T) {
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())
	cfg := Config{DistributedManager: DistributedManagerConfig{StartAddress: "not-an-ip"}}
	_, err := New(cfg, NewResourceTree(), NewEventBroker(), &fakeProxy{}, ca)
	assert.Error(t, err)
}

func TestLoadRecipesAndRegisterApplication(t *testing.T) {
	m := newTestManager(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testRecipeYAML), 0o644))
	require.NoError(t, m.LoadRecipes(dir))

	err := m.RegisterApplication(100, 0, "demo", "test-recipe", 5)
	require.NoError(t, err)

	exc, ok := m.registry.Get(types.EXCUID(100, 0))
	require.True(t, ok)
	assert.Equal(t, types.Ready, exc.State)
	require.NotNil(t, exc.Recipe)
	assert.Len(t, exc.Recipe.AWMs, 2)
	assert.Equal(t, 1, exc.Recipe.AWMs[0].ID, "highest-value AWM sorts first")
}

func TestRegisterApplicationUnknownRecipeFails(t *testing.T) {
	m := newTestManager(t)
	err := m.RegisterApplication(1, 0, "demo", "does-not-exist", 0)
	assert.Error(t, err)
}

func TestDelegateRegistersExcFromRemoteRequest(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testRecipeYAML), 0o644))
	require.NoError(t, m.LoadRecipes(dir))

	uid := types.EXCUID(7, 2)
	err := m.Delegate(rpc.ApplicationScheduleRequest{
		EXCUID:     uid,
		EXCName:    "delegated",
		Priority:   3,
		RecipeName: "test-recipe",
	})
	require.NoError(t, err)

	exc, ok := m.registry.Get(uid)
	require.True(t, ok)
	assert.Equal(t, "delegated", exc.Name)
}

func TestApplyNodeManagementActionDrainAndResume(t *testing.T) {
	m := newTestManager(t)
	path, err := types.ParseResourcePath("sys0.cpu0")
	require.NoError(t, err)
	_, err = m.tree.Register(path, 100)
	require.NoError(t, err)

	require.NoError(t, m.applyNodeManagementAction(rpc.ActionDrain))
	node, _ := m.tree.Get(path)
	assert.Zero(t, node.OnlineCapacity())

	require.NoError(t, m.applyNodeManagementAction(rpc.ActionResume))
	node, _ = m.tree.Get(path)
	assert.Equal(t, uint64(100), node.OnlineCapacity())
}

func TestApplyNodeManagementActionUnknownFails(t *testing.T) {
	m := newTestManager(t)
	err := m.applyNodeManagementAction(rpc.NodeManagementAction(99))
	assert.Error(t, err)
}

func TestUnregisterApplicationRemovesReadyExc(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testRecipeYAML), 0o644))
	require.NoError(t, m.LoadRecipes(dir))

	uid := types.EXCUID(42, 0)
	require.NoError(t, m.RegisterApplication(42, 0, "demo", "test-recipe", 5))
	_, ok := m.registry.Get(uid)
	require.True(t, ok, "exc must be registered before it can be unregistered")

	require.NoError(t, m.UnregisterApplication(context.Background(), uid))

	_, ok = m.registry.Get(uid)
	assert.False(t, ok, "exc must be gone from the registry after exit")
}

func TestUnregisterApplicationUnknownExcFails(t *testing.T) {
	m := newTestManager(t)
	err := m.UnregisterApplication(context.Background(), types.EXCUID(999, 0))
	assert.Error(t, err)
}

func TestUnregisterApplicationReleasesRunningExc(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testRecipeYAML), 0o644))
	require.NoError(t, m.LoadRecipes(dir))

	uid := types.EXCUID(43, 0)
	require.NoError(t, m.RegisterApplication(43, 0, "demo", "test-recipe", 5))
	exc, ok := m.registry.Get(uid)
	require.True(t, ok)

	require.NoError(t, m.registry.Transition(uid, types.Sync))
	require.NoError(t, m.registry.Transition(uid, types.Running))
	awm := exc.Recipe.AWMs[0]
	exc.CurrentAWM = &awm

	require.NoError(t, m.UnregisterApplication(context.Background(), uid))

	_, ok = m.registry.Get(uid)
	assert.False(t, ok)
}
