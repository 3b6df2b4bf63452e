package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

const (
	minUsernameLength    = 2
	maxUsernameLength    = 32
	maxChannelNameLength = 100

	defaultHistoryLimit = 100
	maxHistoryLimit     = 500

	// multipart parts beyond this are spooled to disk
	maxUploadMemory = 10 << 20
	// multipartOverhead is the room left in the request body for the
	// multipart boundaries and part headers around the file.
	multipartOverhead = 64 << 10
)

type CreateUserRequest struct {
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
}

type CreateChannelRequest struct {
	Name     string            `json:"name"`
	Kind     types.ChannelKind `json:"type"`
	Category string            `json:"category"`
}

type FriendRequestRequest struct {
	ToUsername string `json:"toUsername"`
}

type UploadResponse struct {
	Url  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type AvatarResponse struct {
	User types.User `json:"user"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "err", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", errResp.StatusCode, "err", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(req.Username); n < minUsernameLength || n > maxUsernameLength {
		s.writeError(w, NewValidationError("username must be between 2 and 32 characters"))
		return
	}
	if req.AvatarColor != "" && !slices.Contains(database.AvatarColors, req.AvatarColor) {
		s.writeError(w, NewValidationError("unknown avatar color"))
		return
	}

	user, err := s.db.CreateUser(r.Context(), database.CreateUserParams{
		Username:    req.Username,
		AvatarColor: req.AvatarColor,
	})
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, user)
}

func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *GoChatApp) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.db.ListChannels(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, channels)
}

func (s *GoChatApp) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(req.Name); n < 1 || n > maxChannelNameLength {
		s.writeError(w, NewValidationError("channel name must be between 1 and 100 characters"))
		return
	}
	if req.Kind == "" {
		req.Kind = types.ChannelText
	}
	if !req.Kind.Valid() {
		s.writeError(w, NewValidationError("channel type must be text or voice"))
		return
	}

	channel, err := s.db.CreateChannel(r.Context(), database.CreateChannelParams{
		Name:     req.Name,
		Kind:     req.Kind,
		Category: req.Category,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if err := s.cs.Broadcast(r.Context(), server.NewChannelCreated(channel), ""); err != nil {
		s.log.Error("broadcast channel_created", "channel_id", channel.Id, "err", err)
	}

	s.writeJson(w, http.StatusCreated, channel)
}

// historyLimit reads the optional limit query parameter.
func historyLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, NewValidationError("limit must be a positive integer")
	}
	return min(limit, maxHistoryLimit), nil
}

func (s *GoChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	msgs, err := s.db.ListMessages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var p server.Publish
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	p.ChannelId = chi.URLParam(r, "id")

	msg, err := s.cs.PostMessage(r.Context(), userId, &p)
	if err != nil {
		s.log.Debug("post message", "user_id", userId, "channel_id", p.ChannelId, "err", err)
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) listDirectMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	limit, err := historyLimit(r)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	msgs, err := s.db.ListDirectMessages(r.Context(), userId, chi.URLParam(r, "odId"), limit)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) listFriends(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	friends, err := s.db.ListFriends(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, friends)
}

func (s *GoChatApp) listFriendRequests(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	reqs, err := s.db.ListFriendRequests(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, reqs)
}

func (s *GoChatApp) createFriendRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var body FriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	body.ToUsername = strings.TrimSpace(body.ToUsername)
	if body.ToUsername == "" {
		s.writeError(w, NewValidationError("toUsername is required"))
		return
	}

	req, err := s.db.CreateFriendRequest(r.Context(), userId, body.ToUsername)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	if err := s.cs.SendToUser(r.Context(), req.ToUserId, server.NewFriendRequested(req)); err != nil {
		s.log.Error("send friend_request", "request_id", req.Id, "err", err)
	}

	s.writeJson(w, http.StatusCreated, req)
}

// pendingRequestFor loads friend request id and checks that userId is the
// one it was sent to.
func (s *GoChatApp) pendingRequestFor(r *http.Request, userId string) (types.FriendRequest, *ApiError) {
	req, err := s.db.GetFriendRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return types.FriendRequest{}, toApiError(err)
	}
	if req.ToUserId != userId {
		return types.FriendRequest{}, NewForbiddenError()
	}
	return req, nil
}

func (s *GoChatApp) acceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	req, errResp := s.pendingRequestFor(r, userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if _, err := s.db.AcceptFriendRequest(r.Context(), req.Id); err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	acceptor, err := s.db.GetUser(r.Context(), userId)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}
	requester, err := s.db.GetUser(r.Context(), req.FromUserId)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	notice := server.NewFriendAccepted(types.NewFriend(requester.Id, acceptor))
	if err := s.cs.SendToUser(r.Context(), requester.Id, notice); err != nil {
		s.log.Error("send friend_accepted", "request_id", req.Id, "err", err)
	}

	s.writeJson(w, http.StatusOK, types.NewFriend(userId, requester))
}

func (s *GoChatApp) declineFriendRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	req, errResp := s.pendingRequestFor(r, userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if _, err := s.db.DeclineFriendRequest(r.Context(), req.Id); err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, SuccessResponse{Success: true})
}

// saveUpload stores the multipart "file" part of r under a fresh name in the
// upload dir. It returns the public url and the client's file name.
func (s *GoChatApp) saveUpload(w http.ResponseWriter, r *http.Request, limit int64, contentPrefix string) (string, string, *ApiError) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", NewRequestTooLargeError()
		}
		return "", "", NewValidationError("no file uploaded")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", NewValidationError("no file uploaded")
	}
	defer file.Close()

	if header.Size > limit {
		return "", "", NewRequestTooLargeError()
	}

	if contentPrefix != "" && !strings.HasPrefix(header.Header.Get("Content-Type"), contentPrefix) {
		return "", "", NewValidationError("unsupported file type")
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", "", NewInternalServerError(err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(s.uploadDir, name))
	if err != nil {
		return "", "", NewInternalServerError(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		return "", "", NewInternalServerError(err)
	}

	return "/uploads/" + name, header.Filename, nil
}

// uploadFile stores an attachment. Video and audio responses carry the
// original file name so clients can label the player.
func (s *GoChatApp) uploadFile(withName bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, name, errResp := s.saveUpload(w, r, s.maxUploadBytes, "")
		if errResp != nil {
			s.writeError(w, errResp)
			return
		}

		resp := UploadResponse{Url: url}
		if withName {
			resp.Name = name
		}
		s.writeJson(w, http.StatusOK, resp)
	}
}

func (s *GoChatApp) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	url, _, errResp := s.saveUpload(w, r, s.maxAvatarBytes, "image/")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, err := s.db.UpdateUserAvatar(r.Context(), userId, url)
	if err != nil {
		s.writeError(w, toApiError(err))
		return
	}

	if err := s.cs.Broadcast(r.Context(), server.NewAvatarUpdated(user), ""); err != nil {
		s.log.Error("broadcast avatar_updated", "user_id", userId, "err", err)
	}

	s.writeJson(w, http.StatusOK, AvatarResponse{User: user})
}

func (s *GoChatApp) serveUpload(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.uploadDir, filepath.Base(chi.URLParam(r, "name")))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.writeError(w, NewNotFoundError())
		return
	}

	http.ServeFile(w, r, path)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("error upgrading connection", "err", err)
		return
	}

	s.cs.ServeClient(conn, r.Header.Get(userIdHeader))
}
