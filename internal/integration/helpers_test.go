package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codementor/internal/app"
	"codementor/internal/config"
	"codementor/internal/exercise"
	"codementor/pkg/client"
	"codementor/pkg/types"
)

const waitTimeout = 3 * time.Second

type harness struct {
	app *app.Application
	srv *httptest.Server
}

func newHarness(t *testing.T, modify func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = ""
	cfg.Sync.QuietPeriod = 0
	if modify != nil {
		modify(cfg)
	}

	application, err := app.NewApplication(context.Background(), cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = application.Stop(context.Background())
	})
	return &harness{app: application, srv: srv}
}

func (h *harness) connect(t *testing.T, roomID string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := client.Dial(ctx, h.srv.URL, roomID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *client.Client, eventType string) client.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	ev, err := c.Next(ctx, eventType)
	require.NoError(t, err, "waiting for %s", eventType)
	return ev
}

func role(t *testing.T, c *client.Client) types.Role {
	t.Helper()
	var payload types.RoleAssigned
	require.NoError(t, next(t, c, types.EventRoleAssigned).Decode(&payload))
	return payload.Role
}

// codeFrom returns the text of the next code_changed written by editorID,
// skipping the catch-up copy every joiner receives.
func codeFrom(t *testing.T, c *client.Client, editorID string) string {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		var changed types.CodeChanged
		require.NoError(t, next(t, c, types.EventCodeChanged).Decode(&changed))
		if changed.EditorID == editorID {
			return changed.Text
		}
	}
	t.Fatalf("no code_changed from %s", editorID)
	return ""
}

// statusUntil reads room_status events until one matches want.
func statusUntil(t *testing.T, c *client.Client, want types.RoomStatus) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		var got types.RoomStatus
		require.NoError(t, next(t, c, types.EventRoomStatus).Decode(&got))
		if got == want {
			return
		}
	}
	t.Fatalf("room status %+v never observed", want)
}

func solutionOf(t *testing.T, id string) string {
	t.Helper()
	for _, ex := range exercise.DefaultCatalog() {
		if ex.ID == id {
			return ex.Solution
		}
	}
	t.Fatalf("no exercise %q in catalogue", id)
	return ""
}
