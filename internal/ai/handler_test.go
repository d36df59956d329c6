package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
)

type fakeCompleter struct{}

func (fakeCompleter) Complete(_ context.Context, req Request) ([]string, error) {
	if req.Prompt == "fail" {
		return nil, errors.New("upstream down")
	}
	return []string{"re: " + req.Prompt}, nil
}

func (f fakeCompleter) CompleteAll(ctx context.Context, reqs []Request) []Result {
	out := make([]Result, len(reqs))
	for i, r := range reqs {
		c, _ := f.Complete(ctx, r)
		out[i] = Result{Completions: c}
	}
	return out
}

func aiApp(superAdmin bool) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(zap.NewNop())})
	setCaller := func(c *fiber.Ctx) error {
		c.Locals(engine.RequestContextKey, &metadata.RequestContext{UserID: "u1", IsSuperAdmin: superAdmin})
		return c.Next()
	}
	RegisterRoutes(app, NewHandler(fakeCompleter{}), setCaller)
	return app
}

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/_ai/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestCompletionsHandler(t *testing.T) {
	app := aiApp(true)

	status, out := post(t, app, `{"prompt":"title ideas"}`)
	require.Equal(t, fiber.StatusOK, status)
	data := out["data"].(map[string]any)
	assert.Equal(t, []any{"re: title ideas"}, data["completions"])

	status, out = post(t, app, `{"requests":[{"prompt":"a"},{"prompt":"b"}]}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 2)

	status, _ = post(t, app, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out = post(t, app, `{"prompt":"fail"}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "AI_ERROR", out["error"].(map[string]any)["code"])
}

func TestCompletionsHandler_SuperAdminOnly(t *testing.T) {
	status, _ := post(t, aiApp(false), `{"prompt":"x"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
}
