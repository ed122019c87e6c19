package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchboard/internal/app/boards"
	"sketchboard/internal/app/export"
	"sketchboard/pkg/canvas/protocol"
)

type fixture struct {
	srv  *httptest.Server
	hubs *boards.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>sketchboard</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o600))

	store := boards.NewMemoryStore()
	hubs := boards.NewManager(context.Background(), boards.ManagerOptions{})
	router := NewRouter(Deps{
		Settings:  Settings{Canvas: export.Canvas{Width: 40, Height: 30}},
		Boards:    store,
		Hubs:      hubs,
		StaticDir: static,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		hubs.Shutdown()
	})
	return &fixture{srv: srv, hubs: hubs}
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestBoardCRUD(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/boards")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Code string `json:"code"`
		URL  string `json:"url"`
	}
	decode(t, resp, &created)
	require.NotEmpty(t, created.Code)
	assert.True(t, strings.HasSuffix(created.URL, "/boards/"+created.Code))

	resp = f.do(t, http.MethodGet, "/api/boards/"+created.Code)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/boards/"+strings.ToUpper(created.Code)+"/participants")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, f.hubs.HubForBoard(created.Code))
	assert.Equal(t, 1, f.hubs.Active(), "upper-case code reuses the same board")

	resp = f.do(t, http.MethodDelete, "/api/boards/"+created.Code)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, f.hubs.HubForBoard(created.Code), "deleted boards cannot be restarted")

	resp = f.do(t, http.MethodGet, "/api/boards/"+created.Code)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/boards/"+boards.Lobby)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHistoryAndExports(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	begin, err := protocol.Encode(protocol.TypeBeginStroke, map[string]interface{}{"x": 1, "y": 1, "color": "#336699", "width": 3})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, begin))
	data, err := protocol.Encode(protocol.TypeFinishAction, map[string]interface{}{
		"points": [][2]float64{{1, 1}, {20, 20}},
		"color":  "#336699",
		"width":  3,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	var history struct {
		Strokes   []protocol.Stroke `json:"strokes"`
		RedoDepth int               `json:"redoDepth"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get(f.srv.URL + "/api/boards/lobby/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&history) != nil {
			return false
		}
		return len(history.Strokes) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "#336699", history.Strokes[0].Color)

	var participants map[string]protocol.Participant
	resp := f.do(t, http.MethodGet, "/api/boards/lobby/participants")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &participants)
	assert.Len(t, participants, 1)

	resp = f.do(t, http.MethodGet, "/api/boards/lobby/export.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp = f.do(t, http.MethodGet, "/api/boards/lobby/export.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "lobby.pdf")
}

func TestUnknownBoard(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/ws?board=nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/boards/nope/history")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, f.hubs.Active())
}

func TestSettingsHealthAndSPA(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/settings")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings map[string]interface{}
	decode(t, resp, &settings)
	assert.Equal(t, "ws://"+strings.TrimPrefix(f.srv.URL, "http://")+"/ws", settings["wsURL"])
	assert.EqualValues(t, 40, settings["canvasWidth"])

	resp = f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/boards/abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sketchboard")
}

func TestResolveWSURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/api/settings", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "wss://example.com/ws", resolveWSURL(Settings{}, r))
	assert.Equal(t, "wss://public/ws", resolveWSURL(Settings{PublicWSURL: "wss://public/ws"}, r))
}
