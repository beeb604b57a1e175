package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/vault"
	"github.com/agentvault/agentvaultd/pkg/types"
)

func testAgent(writeGlobs ...string) *types.Agent {
	return &types.Agent{
		Path:        "agents/helper.md",
		Name:        "helper",
		Permissions: types.PermissionSet{Write: writeGlobs},
	}
}

func TestApproveAllowsNonWriteToolUnconditionally(t *testing.T) {
	b := New(event.New(), nil)
	var denials []types.PermissionDenial
	d := b.Approve("s1", testAgent(), "read", map[string]any{"path": "anything"}, "t1", &denials)
	assert.True(t, d.Allow)
	assert.Empty(t, denials)
}

func TestApproveAllowsWriteWithinConfiguredGlob(t *testing.T) {
	b := New(event.New(), nil)
	var denials []types.PermissionDenial
	d := b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "notes/a.md"}, "t1", &denials)
	assert.True(t, d.Allow)
	assert.Empty(t, denials)
}

func TestApproveAllowsBashUnderAnyWritePolicy(t *testing.T) {
	b := New(event.New(), nil)
	var denials []types.PermissionDenial
	d := b.Approve("s1", testAgent("*"), "bash", map[string]any{"command": "rm -rf /tmp/x"}, "t1", &denials)
	assert.True(t, d.Allow)
}

func TestApproveSuspendsThenGrants(t *testing.T) {
	bus := event.New()
	b := New(bus, nil)

	var requested types.PermissionRequest
	done := make(chan struct{})
	bus.Subscribe(Topic, func(e event.Event) {
		if e.Type == event.PermissionRequested {
			requested = e.Data.(types.PermissionRequest)
			close(done)
		}
	})

	var denials []types.PermissionDenial
	resultCh := make(chan Decision, 1)
	go func() {
		d := b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-1", &denials)
		resultCh <- d
	}()

	<-done
	assert.Equal(t, "s1-tool-use-1", requested.ID)
	assert.Equal(t, types.PermissionPending, requested.State)

	require.True(t, b.Grant(requested.ID))

	select {
	case d := <-resultCh:
		assert.True(t, d.Allow)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for approval to resolve")
	}
	assert.Empty(t, denials)
}

func TestApproveSuspendsThenDenies(t *testing.T) {
	bus := event.New()
	b := New(bus, nil)

	var id string
	done := make(chan struct{})
	bus.Subscribe(Topic, func(e event.Event) {
		if e.Type == event.PermissionRequested {
			id = e.Data.(types.PermissionRequest).ID
			close(done)
		}
	})

	var denials []types.PermissionDenial
	resultCh := make(chan Decision, 1)
	go func() {
		d := b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-2", &denials)
		resultCh <- d
	}()

	<-done
	require.True(t, b.Deny(id))

	d := <-resultCh
	assert.False(t, d.Allow)
	require.Len(t, denials, 1)
	assert.Equal(t, "denied", denials[0].Reason)
}

func TestApproveTimesOutWhenUnresolved(t *testing.T) {
	bus := event.New()
	b := New(bus, nil)
	b.timeout = 20 * time.Millisecond

	var denials []types.PermissionDenial
	d := b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-3", &denials)

	assert.False(t, d.Allow)
	require.Len(t, denials, 1)
	assert.Equal(t, "timeout", denials[0].Reason)
	assert.Empty(t, b.ListPending())
}

func TestGrantOnUnknownIDIsSafeNoOp(t *testing.T) {
	b := New(event.New(), nil)
	assert.False(t, b.Grant("nonexistent"))
	assert.False(t, b.Deny("nonexistent"))
}

func TestDoubleResolveIsIdempotent(t *testing.T) {
	bus := event.New()
	b := New(bus, nil)

	var id string
	done := make(chan struct{})
	bus.Subscribe(Topic, func(e event.Event) {
		if e.Type == event.PermissionRequested {
			id = e.Data.(types.PermissionRequest).ID
			close(done)
		}
	})

	go b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-4", nil)
	<-done

	assert.True(t, b.Grant(id))
	assert.False(t, b.Grant(id))
	assert.False(t, b.Deny(id))
}

func TestGrantRememberingShortCircuitsFutureRequests(t *testing.T) {
	bus := event.New()
	b := New(bus, nil)

	var id string
	done := make(chan struct{})
	bus.Subscribe(Topic, func(e event.Event) {
		if e.Type == event.PermissionRequested {
			id = e.Data.(types.PermissionRequest).ID
			close(done)
		}
	})

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-5", nil)
	}()
	<-done
	require.True(t, b.GrantRemembering(id))
	d := <-resultCh
	assert.True(t, d.Allow)

	// Second identical-subject request in the same session should not
	// even publish a new pending request.
	var republished bool
	bus.Subscribe(Topic, func(e event.Event) {
		if e.Type == event.PermissionRequested {
			republished = true
		}
	})
	d2 := b.Approve("s1", testAgent("notes/*"), "write", map[string]any{"path": "projects/secret.txt"}, "tool-use-6", nil)
	assert.True(t, d2.Allow)
	assert.False(t, republished)
}

func TestRelativizeUsesVaultRelativePath(t *testing.T) {
	store, err := vault.NewStore(t.TempDir())
	require.NoError(t, err)
	b := New(event.New(), store)

	abs := store.Root() + "/notes/a.md"
	assert.Equal(t, "notes/a.md", b.relativize(abs))
}
