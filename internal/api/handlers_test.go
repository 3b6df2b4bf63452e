package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-realtime-chat/internal/config"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/testutil"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const allowedOrigin = "http://chat.example.com"

type apiFixture struct {
	app *GoChatApp
	db  *database.MemRepository
	srv *httptest.Server
	cfg *config.Config
}

func newTestApp(t *testing.T, tweak func(*config.Config)) *apiFixture {
	t.Helper()

	logger := testutil.TestLogger(t)
	db := database.NewMemRepository()
	su := stats.NewStatsUpdater()

	cs, err := server.NewChatServer(logger, db, su, server.Options{EchoToSender: true})
	require.NoError(t, err)
	go cs.Run()

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.AllowedOrigins = []string{allowedOrigin}
	if tweak != nil {
		tweak(cfg)
	}

	app := NewGoChatApp(logger, cs, db, su.Handler(), cfg)
	srv := httptest.NewServer(app.Handler())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return &apiFixture{app: app, db: db, srv: srv, cfg: cfg}
}

func (f *apiFixture) createUser(t *testing.T, username string) types.User {
	t.Helper()
	u, err := f.db.CreateUser(context.Background(), database.CreateUserParams{Username: username})
	require.NoError(t, err)
	return u
}

// do sends a request as userId (unauthenticated when empty). A non-nil body
// is encoded as JSON unless it is already an io.Reader.
func (f *apiFixture) do(t *testing.T, method, path, userId string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		r = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	if userId != "" {
		req.Header.Set(userIdHeader, userId)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func assertApiError(t *testing.T, resp *http.Response, status int) ApiError {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[ApiError](t, resp)
	assert.Equal(t, status, body.StatusCode)
	assert.NotEmpty(t, body.Message)
	return body
}

func (f *apiFixture) dial(t *testing.T, userId string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": []string{userId}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	expectEvent(t, conn, "users_online")
	return conn
}

// expectEvent reads frames until one of type eventType arrives.
func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)

		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev["type"] == eventType {
			return ev
		}
	}
}

func Test_healthCheck(t *testing.T) {
	mockRepo := &database.MockRepository{}
	defer mockRepo.AssertExpectations(t)

	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := NewGoChatApp(testutil.TestLogger(t), nil, mockRepo, nil, config.Default())
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_createUser(t *testing.T) {
	f := newTestApp(t, nil)
	f.createUser(t, "alice")

	tcases := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"valid", CreateUserRequest{Username: "bob"}, http.StatusCreated},
		{"explicit color", CreateUserRequest{Username: "carol", AvatarColor: "#FF9800"}, http.StatusCreated},
		{"trimmed", CreateUserRequest{Username: "  dave  "}, http.StatusCreated},
		{"multibyte at the limit", CreateUserRequest{Username: strings.Repeat("é", 32)}, http.StatusCreated},
		{"too short", CreateUserRequest{Username: "a"}, http.StatusBadRequest},
		{"too long", CreateUserRequest{Username: strings.Repeat("x", 33)}, http.StatusBadRequest},
		{"unknown color", CreateUserRequest{Username: "erin", AvatarColor: "#000000"}, http.StatusBadRequest},
		{"taken in another case", CreateUserRequest{Username: "ALICE"}, http.StatusConflict},
		{"malformed body", strings.NewReader("{"), http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/users", "", tc.body)
			if tc.wantStatus != http.StatusCreated {
				assertApiError(t, resp, tc.wantStatus)
				return
			}

			require.Equal(t, http.StatusCreated, resp.StatusCode)
			user := decode[types.User](t, resp)
			assert.NotEmpty(t, user.Id)
			assert.Contains(t, database.AvatarColors, user.AvatarColor)
			assert.Equal(t, types.StatusOffline, user.Status, "new users start offline")

			req := tc.body.(CreateUserRequest)
			assert.Equal(t, strings.TrimSpace(req.Username), user.Username)
			if req.AvatarColor != "" {
				assert.Equal(t, req.AvatarColor, user.AvatarColor)
			}
		})
	}
}

func Test_getUser(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	f.createUser(t, "bob")

	resp := f.do(t, http.MethodGet, "/api/users/"+alice.Id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, alice, decode[types.User](t, resp))

	resp = f.do(t, http.MethodGet, "/api/users/missing", "", nil)
	body := assertApiError(t, resp, http.StatusNotFound)
	assert.Equal(t, "not found", body.Message)

	resp = f.do(t, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]types.User](t, resp), 2)
}

func Test_channels(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	bobWs := f.dial(t, bob.Id)

	t.Run("defaults are listed", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/channels", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		channels := decode[[]types.Channel](t, resp)
		require.Len(t, channels, 3)
		assert.Equal(t, "general", channels[0].Id)
	})

	t.Run("create requires a user", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels", "", CreateChannelRequest{Name: "lounge"})
		assertApiError(t, resp, http.StatusUnauthorized)

		resp = f.do(t, http.MethodPost, "/api/channels", "ghost", CreateChannelRequest{Name: "lounge"})
		assertApiError(t, resp, http.StatusUnauthorized)
	})

	t.Run("create validates", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels", alice.Id, CreateChannelRequest{Name: "  "})
		assertApiError(t, resp, http.StatusBadRequest)

		resp = f.do(t, http.MethodPost, "/api/channels", alice.Id, CreateChannelRequest{Name: strings.Repeat("x", 101)})
		assertApiError(t, resp, http.StatusBadRequest)

		resp = f.do(t, http.MethodPost, "/api/channels", alice.Id, CreateChannelRequest{Name: "lounge", Kind: "video"})
		assertApiError(t, resp, http.StatusBadRequest)
	})

	t.Run("create broadcasts", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels", alice.Id, CreateChannelRequest{Name: "lounge", Category: "fun"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ch := decode[types.Channel](t, resp)
		assert.Equal(t, "lounge", ch.Name)
		assert.Equal(t, types.ChannelText, ch.Kind, "type defaults to text")
		assert.Equal(t, "fun", ch.Category)

		ev := expectEvent(t, bobWs, "channel_created")
		assert.Equal(t, ch.Id, ev["channel"].(map[string]any)["id"])
	})
}

func Test_channelMessages(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	bobWs := f.dial(t, bob.Id)

	t.Run("post runs the chat pipeline", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels/general/messages", alice.Id,
			map[string]string{"content": "hello from http", "clientId": "c-1"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		msg := decode[types.Message](t, resp)
		assert.Equal(t, "general", msg.ChannelId)
		assert.Equal(t, alice.Id, msg.UserId)
		assert.Equal(t, "alice", msg.Username)

		ev := expectEvent(t, bobWs, "message")
		assert.Equal(t, msg.Id, ev["message"].(map[string]any)["id"])
	})

	t.Run("rejections", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels/nope/messages", alice.Id, map[string]string{"content": "hi"})
		assertApiError(t, resp, http.StatusNotFound)

		resp = f.do(t, http.MethodPost, "/api/channels/general/messages", alice.Id, map[string]string{"content": "kys"})
		assertApiError(t, resp, http.StatusBadRequest)

		resp = f.do(t, http.MethodPost, "/api/channels/general/messages", alice.Id, map[string]string{"content": "   "})
		assertApiError(t, resp, http.StatusBadRequest)

		resp = f.do(t, http.MethodPost, "/api/channels/general/messages", "", map[string]string{"content": "hi"})
		assertApiError(t, resp, http.StatusUnauthorized)
	})

	t.Run("history is ascending and limited", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/channels/general/messages", alice.Id, map[string]string{"content": "second"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/api/channels/general/messages", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		msgs := decode[[]types.Message](t, resp)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello from http", msgs[0].Content)
		assert.Equal(t, "second", msgs[1].Content)

		resp = f.do(t, http.MethodGet, "/api/channels/general/messages?limit=1", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		msgs = decode[[]types.Message](t, resp)
		require.Len(t, msgs, 1)
		assert.Equal(t, "second", msgs[0].Content)

		resp = f.do(t, http.MethodGet, "/api/channels/general/messages?limit=zero", "", nil)
		assertApiError(t, resp, http.StatusBadRequest)

		resp = f.do(t, http.MethodGet, "/api/channels/nope/messages", "", nil)
		assertApiError(t, resp, http.StatusNotFound)

		resp = f.do(t, http.MethodGet, "/api/channels/random/messages", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]types.Message](t, resp))
	})

	t.Run("rate limited", func(t *testing.T) {
		spammer := f.createUser(t, "spammer")
		for i := range 5 {
			resp := f.do(t, http.MethodPost, "/api/channels/random/messages", spammer.Id,
				map[string]string{"content": fmt.Sprintf("note %d", i)})
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		}

		resp := f.do(t, http.MethodPost, "/api/channels/random/messages", spammer.Id, map[string]string{"content": "one more"})
		body := assertApiError(t, resp, http.StatusTooManyRequests)
		assert.Equal(t, server.RateLimitMessage, body.Message)
	})
}

func Test_listDirectMessages(t *testing.T) {
	f := newTestApp(t, nil)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, pair := range [][2]string{{alice.Id, bob.Id}, {bob.Id, alice.Id}, {alice.Id, carol.Id}} {
		_, err := f.db.CreateDirectMessage(ctx, types.Message{
			Id:          fmt.Sprintf("m%d", i),
			UserId:      pair[0],
			RecipientId: pair[1],
			Content:     fmt.Sprintf("dm %d", i),
			Timestamp:   ts.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	resp := f.do(t, http.MethodGet, "/api/dm/"+bob.Id+"/messages", alice.Id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]types.Message](t, resp)
	require.Len(t, msgs, 2, "only the alice and bob conversation")
	assert.Equal(t, "m0", msgs[0].Id)
	assert.Equal(t, "m1", msgs[1].Id)

	resp = f.do(t, http.MethodGet, "/api/dm/"+alice.Id+"/messages", bob.Id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]types.Message](t, resp), 2, "both directions share one log")

	resp = f.do(t, http.MethodGet, "/api/dm/"+bob.Id+"/messages", "", nil)
	assertApiError(t, resp, http.StatusUnauthorized)
}

func Test_friends(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")
	aliceWs := f.dial(t, alice.Id)
	bobWs := f.dial(t, bob.Id)

	var req types.FriendRequest
	t.Run("request notifies the recipient", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/friends/request", alice.Id, FriendRequestRequest{ToUsername: "Bob"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		req = decode[types.FriendRequest](t, resp)
		assert.Equal(t, alice.Id, req.FromUserId)
		assert.Equal(t, bob.Id, req.ToUserId)
		assert.Equal(t, types.FriendRequestPending, req.Status)

		ev := expectEvent(t, bobWs, "friend_request")
		assert.Equal(t, req.Id, ev["request"].(map[string]any)["id"])
	})

	t.Run("request validation", func(t *testing.T) {
		tcases := []struct {
			name       string
			from       string
			to         string
			wantStatus int
		}{
			{"self", alice.Id, "alice", http.StatusBadRequest},
			{"duplicate", alice.Id, "bob", http.StatusBadRequest},
			{"duplicate reversed", bob.Id, "alice", http.StatusBadRequest},
			{"unknown user", alice.Id, "nobody", http.StatusNotFound},
			{"empty username", alice.Id, " ", http.StatusBadRequest},
		}
		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				resp := f.do(t, http.MethodPost, "/api/friends/request", tc.from, FriendRequestRequest{ToUsername: tc.to})
				assertApiError(t, resp, tc.wantStatus)
			})
		}
	})

	t.Run("incoming requests", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/friends/requests", bob.Id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		reqs := decode[[]types.FriendRequest](t, resp)
		require.Len(t, reqs, 1)
		assert.Equal(t, req.Id, reqs[0].Id)

		resp = f.do(t, http.MethodGet, "/api/friends/requests", alice.Id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]types.FriendRequest](t, resp))
	})

	t.Run("only the recipient can accept", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/friends/accept/"+req.Id, alice.Id, nil)
		assertApiError(t, resp, http.StatusForbidden)

		resp = f.do(t, http.MethodPost, "/api/friends/accept/missing", bob.Id, nil)
		assertApiError(t, resp, http.StatusNotFound)
	})

	t.Run("accept", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/friends/accept/"+req.Id, bob.Id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		friend := decode[types.Friend](t, resp)
		assert.Equal(t, alice.Id, friend.OdId, "the response is the requester")

		ev := expectEvent(t, aliceWs, "friend_accepted")
		assert.Equal(t, bob.Id, ev["friend"].(map[string]any)["odId"], "the requester learns about the acceptor")

		resp = f.do(t, http.MethodPost, "/api/friends/accept/"+req.Id, bob.Id, nil)
		assertApiError(t, resp, http.StatusConflict)

		for _, pair := range [][2]types.User{{alice, bob}, {bob, alice}} {
			resp = f.do(t, http.MethodGet, "/api/friends", pair[0].Id, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			friends := decode[[]types.Friend](t, resp)
			require.Len(t, friends, 1)
			assert.Equal(t, pair[1].Id, friends[0].OdId)
		}

		resp = f.do(t, http.MethodPost, "/api/friends/request", bob.Id, FriendRequestRequest{ToUsername: "alice"})
		assertApiError(t, resp, http.StatusBadRequest)
	})

	t.Run("decline", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/friends/request", carol.Id, FriendRequestRequest{ToUsername: "alice"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		carolReq := decode[types.FriendRequest](t, resp)

		resp = f.do(t, http.MethodPost, "/api/friends/decline/"+carolReq.Id, carol.Id, nil)
		assertApiError(t, resp, http.StatusForbidden)

		resp = f.do(t, http.MethodPost, "/api/friends/decline/"+carolReq.Id, alice.Id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, SuccessResponse{Success: true}, decode[SuccessResponse](t, resp))

		resp = f.do(t, http.MethodPost, "/api/friends/decline/"+carolReq.Id, alice.Id, nil)
		assertApiError(t, resp, http.StatusConflict)

		resp = f.do(t, http.MethodPost, "/api/friends/decline/missing", alice.Id, nil)
		assertApiError(t, resp, http.StatusNotFound)
	})
}

// multipartFile builds a request body with one "file" part.
func multipartFile(t *testing.T, filename, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return buf, mw.FormDataContentType()
}

func (f *apiFixture) upload(t *testing.T, path, userId, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	body, ct := multipartFile(t, filename, contentType, data)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	if userId != "" {
		req.Header.Set(userIdHeader, userId)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func Test_uploads(t *testing.T) {
	f := newTestApp(t, func(cfg *config.Config) { cfg.MaxUploadBytes = 1024 })

	t.Run("image", func(t *testing.T) {
		resp := f.upload(t, "/api/upload/image", "", "Cat.PNG", "image/png", []byte("png bytes"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode[UploadResponse](t, resp)
		assert.Regexp(t, `^/uploads/[0-9a-f-]{36}\.png$`, out.Url)
		assert.Empty(t, out.Name, "image uploads carry no name")

		get := f.do(t, http.MethodGet, out.Url, "", nil)
		require.Equal(t, http.StatusOK, get.StatusCode)
		raw, err := io.ReadAll(get.Body)
		require.NoError(t, err)
		assert.Equal(t, "png bytes", string(raw))
	})

	t.Run("video and audio keep the name", func(t *testing.T) {
		for _, kind := range []string{"video", "audio"} {
			resp := f.upload(t, "/api/upload/"+kind, "", "clip.webm", kind+"/webm", []byte("media"))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			out := decode[UploadResponse](t, resp)
			assert.Equal(t, "clip.webm", out.Name)
			assert.True(t, strings.HasSuffix(out.Url, ".webm"))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/upload/image", "", strings.NewReader("not multipart"))
		assertApiError(t, resp, http.StatusBadRequest)
	})

	t.Run("limit applies to the file", func(t *testing.T) {
		resp := f.upload(t, "/api/upload/image", "", "exact.png", "image/png", bytes.Repeat([]byte("x"), 1024))
		assert.Equal(t, http.StatusOK, resp.StatusCode, "a file of exactly the limit fits despite the envelope")

		resp = f.upload(t, "/api/upload/image", "", "over.png", "image/png", bytes.Repeat([]byte("x"), 1025))
		assertApiError(t, resp, http.StatusRequestEntityTooLarge)
	})

	t.Run("unknown file", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/uploads/nothing.png", "", nil)
		assertApiError(t, resp, http.StatusNotFound)
	})
}

func Test_uploadAvatar(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	bobWs := f.dial(t, bob.Id)

	resp := f.upload(t, "/api/upload/avatar", "", "me.png", "image/png", []byte("img"))
	assertApiError(t, resp, http.StatusUnauthorized)

	resp = f.upload(t, "/api/upload/avatar", alice.Id, "me.txt", "text/plain", []byte("img"))
	assertApiError(t, resp, http.StatusBadRequest)

	resp = f.upload(t, "/api/upload/avatar", alice.Id, "me.png", "image/png", []byte("img"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[AvatarResponse](t, resp)
	assert.Equal(t, alice.Id, out.User.Id)
	assert.True(t, strings.HasPrefix(out.User.AvatarUrl, "/uploads/"))

	stored, err := f.db.GetUser(context.Background(), alice.Id)
	require.NoError(t, err)
	assert.Equal(t, out.User.AvatarUrl, stored.AvatarUrl)

	ev := expectEvent(t, bobWs, "avatar_updated")
	assert.Equal(t, map[string]any{
		"type":      "avatar_updated",
		"userId":    alice.Id,
		"avatarUrl": out.User.AvatarUrl,
		"username":  "alice",
	}, ev)
}

func Test_serveWs(t *testing.T) {
	f := newTestApp(t, nil)
	alice := f.createUser(t, "alice")
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example.com"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("allowed origin and auth event", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{allowedOrigin}})
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "odId": alice.Id}))
		ev := expectEvent(t, conn, "users_online")
		assert.Len(t, ev["users"], 1)
	})
}

func Test_metrics(t *testing.T) {
	f := newTestApp(t, nil)

	resp := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gochat_online_users")
	assert.Contains(t, string(raw), "gochat_active_connections")
}

func Test_unknownRoute(t *testing.T) {
	f := newTestApp(t, nil)

	resp := f.do(t, http.MethodGet, "/api/nope", "", nil)
	assertApiError(t, resp, http.StatusNotFound)

	resp = f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}
