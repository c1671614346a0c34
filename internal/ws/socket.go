package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/famemely/internal/game"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const actionTimeout = 5 * time.Second

// ConnCtx is the per-connection state kept on the socket.
type ConnCtx struct {
	Code     string
	Token    string
	PlayerID string

	limiter *rate.Limiter
	cancel  context.CancelFunc
}

type Server struct {
	mgr              *game.Manager
	actionsPerSecond int

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionCode -> socketID -> Conn
}

func New(mgr *game.Manager, actionsPerSecond int) *Server {
	if actionsPerSecond <= 0 {
		actionsPerSecond = 5
	}
	return &Server{mgr: mgr, actionsPerSecond: actionsPerSecond, members: make(map[string]map[string]socketio.Conn)}
}

type createPayload struct {
	PlayerID string        `json:"playerId"`
	Name     string        `json:"name"`
	Settings game.Settings `json:"settings"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode"`
	PlayerID    string `json:"playerId"`
	Name        string `json:"name"`
}

type resumePayload struct {
	SessionCode string `json:"sessionCode"`
	Token       string `json:"token"`
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(srv.newConnCtx())
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:create", func(s socketio.Conn, payload createPayload) map[string]any {
		cc := connCtx(s)
		if !cc.limiter.Allow() {
			return srv.rateLimited(s)
		}
		playerID := playerIDOrNew(payload.PlayerID)
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		sess, token, err := srv.mgr.CreateSession(ctx, playerID, payload.Name, payload.Settings)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attach(s, sess.ID, token, playerID)
		log.Info().Str("sid", s.ID()).Str("code", sess.ID).Str("playerId", playerID).Msg("game:create")
		return map[string]any{"sessionCode": sess.ID, "token": token, "playerId": playerID}
	})

	io.OnEvent("/", "game:join", func(s socketio.Conn, payload joinPayload) map[string]any {
		cc := connCtx(s)
		if !cc.limiter.Allow() {
			return srv.rateLimited(s)
		}
		playerID := playerIDOrNew(payload.PlayerID)
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		code, err := srv.mgr.Resolve(ctx, payload.SessionCode)
		if err != nil {
			return srv.err(s, err)
		}
		_, token, err := srv.mgr.Join(ctx, code, playerID, payload.Name)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attach(s, code, token, playerID)
		log.Info().Str("sid", s.ID()).Str("code", code).Str("playerId", playerID).Msg("game:join")
		return map[string]any{"sessionCode": code, "token": token, "playerId": playerID}
	})

	io.OnEvent("/", "game:resume", func(s socketio.Conn, payload resumePayload) map[string]any {
		cc := connCtx(s)
		if !cc.limiter.Allow() {
			return srv.rateLimited(s)
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		code, err := srv.mgr.Resolve(ctx, payload.SessionCode)
		if err != nil {
			return srv.err(s, err)
		}
		playerID := srv.mgr.PlayerForToken(code, payload.Token)
		if playerID == "" {
			return srv.err(s, &game.Rejection{Kind: game.KindNotAuthorized, Reason: "invalid token"})
		}
		srv.attach(s, code, payload.Token, playerID)
		log.Info().Str("sid", s.ID()).Str("code", code).Str("playerId", playerID).Msg("game:resume")
		return map[string]any{"ok": true, "playerId": playerID}
	})

	io.OnEvent("/", "game:leave", func(s socketio.Conn) map[string]any {
		return srv.act(s, "game:leave", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.Leave(ctx, cc.Code, cc.PlayerID)
			if err != nil {
				return nil, err
			}
			srv.detach(s)
			return nil, nil
		})
	})

	io.OnEvent("/", "game:settings", func(s socketio.Conn, payload struct {
		Settings game.Settings `json:"settings"`
	}) map[string]any {
		return srv.act(s, "game:settings", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.UpdateSettings(ctx, cc.Code, cc.PlayerID, payload.Settings)
			return nil, err
		})
	})

	io.OnEvent("/", "game:start", func(s socketio.Conn) map[string]any {
		return srv.act(s, "game:start", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.Start(ctx, cc.Code, cc.PlayerID)
			return nil, err
		})
	})

	io.OnEvent("/", "game:uploadPhoto", func(s socketio.Conn, payload struct {
		URL string `json:"url"`
	}) map[string]any {
		return srv.act(s, "game:uploadPhoto", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, photo, err := srv.mgr.UploadPhoto(ctx, cc.Code, cc.PlayerID, payload.URL)
			if err != nil {
				return nil, err
			}
			return map[string]any{"photoId": photo.ID}, nil
		})
	})

	io.OnEvent("/", "game:finishUpload", func(s socketio.Conn) map[string]any {
		return srv.act(s, "game:finishUpload", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.FinishUpload(ctx, cc.Code, cc.PlayerID)
			return nil, err
		})
	})

	io.OnEvent("/", "game:pickPhoto", func(s socketio.Conn, payload struct {
		PhotoID string `json:"photoId"`
	}) map[string]any {
		return srv.act(s, "game:pickPhoto", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.PickPhoto(ctx, cc.Code, cc.PlayerID, payload.PhotoID)
			return nil, err
		})
	})

	io.OnEvent("/", "game:submitCaption", func(s socketio.Conn, payload struct {
		Captions      []game.Caption `json:"captions"`
		FinalImageURL string         `json:"finalImageUrl"`
	}) map[string]any {
		return srv.act(s, "game:submitCaption", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.SubmitCaption(ctx, cc.Code, cc.PlayerID, payload.Captions, payload.FinalImageURL)
			return nil, err
		})
	})

	io.OnEvent("/", "game:grantExtension", func(s socketio.Conn, payload struct {
		Seconds int `json:"seconds"`
	}) map[string]any {
		return srv.act(s, "game:grantExtension", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.GrantExtension(ctx, cc.Code, cc.PlayerID, payload.Seconds)
			return nil, err
		})
	})

	io.OnEvent("/", "game:selectWinner", func(s socketio.Conn, payload struct {
		PlayerID string `json:"playerId"`
	}) map[string]any {
		return srv.act(s, "game:selectWinner", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.SelectJudgeWinner(ctx, cc.Code, cc.PlayerID, payload.PlayerID)
			return nil, err
		})
	})

	io.OnEvent("/", "game:vote", func(s socketio.Conn, payload struct {
		PlayerID string `json:"playerId"`
	}) map[string]any {
		return srv.act(s, "game:vote", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.CastVote(ctx, cc.Code, cc.PlayerID, payload.PlayerID)
			return nil, err
		})
	})

	io.OnEvent("/", "game:advance", func(s socketio.Conn) map[string]any {
		return srv.act(s, "game:advance", func(ctx context.Context, cc *ConnCtx) (map[string]any, error) {
			_, err := srv.mgr.Advance(ctx, cc.Code, cc.PlayerID)
			return nil, err
		})
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		srv.detach(s)
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve failed")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) newConnCtx() *ConnCtx {
	return &ConnCtx{limiter: rate.NewLimiter(rate.Limit(srv.actionsPerSecond), srv.actionsPerSecond*2)}
}

func connCtx(s socketio.Conn) *ConnCtx {
	if cc, ok := s.Context().(*ConnCtx); ok && cc != nil {
		return cc
	}
	cc := &ConnCtx{limiter: rate.NewLimiter(rate.Inf, 0)}
	s.SetContext(cc)
	return cc
}

func playerIDOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// act runs one session action on behalf of the connection's player. State changes reach
// every member through their session subscription, so only the ack is returned here.
func (srv *Server) act(s socketio.Conn, event string, fn func(ctx context.Context, cc *ConnCtx) (map[string]any, error)) map[string]any {
	cc := connCtx(s)
	if !cc.limiter.Allow() {
		return srv.rateLimited(s)
	}
	if cc.Code == "" {
		return srv.err(s, &game.Rejection{Kind: game.KindNotAuthorized, Reason: "join a session first"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	code, playerID := cc.Code, cc.PlayerID
	out, err := fn(ctx, cc)
	if err != nil {
		log.Debug().Err(err).Str("code", code).Str("playerId", playerID).Str("event", event).Msg("action rejected")
		return srv.err(s, err)
	}
	log.Info().Str("code", code).Str("playerId", playerID).Msg(event)
	if out == nil {
		out = map[string]any{}
	}
	out["ok"] = true
	return out
}

// attach binds the connection to a session and starts pushing its snapshots.
func (srv *Server) attach(s socketio.Conn, code, token, playerID string) {
	srv.detach(s)
	cc := connCtx(s)
	ctx, cancel := context.WithCancel(context.Background())
	cc.Code, cc.Token, cc.PlayerID, cc.cancel = code, token, playerID, cancel
	s.Join(code)

	srv.mu.Lock()
	if srv.members[code] == nil {
		srv.members[code] = make(map[string]socketio.Conn)
	}
	srv.members[code][s.ID()] = s
	srv.mu.Unlock()

	go srv.follow(ctx, s, code, playerID)
}

func (srv *Server) detach(s socketio.Conn) {
	cc := connCtx(s)
	if cc.cancel != nil {
		cc.cancel()
		cc.cancel = nil
	}
	if cc.Code == "" {
		return
	}
	s.Leave(cc.Code)
	srv.mu.Lock()
	if m := srv.members[cc.Code]; m != nil {
		delete(m, s.ID())
		if len(m) == 0 {
			delete(srv.members, cc.Code)
		}
	}
	srv.mu.Unlock()
	cc.Code, cc.Token, cc.PlayerID = "", "", ""
}

// Members reports how many sockets are attached to a session.
func (srv *Server) Members(code string) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members[code])
}

// follow emits every committed snapshot to one connection until ctx is cancelled. A dropped
// subscription is renewed; a finished session ends it.
func (srv *Server) follow(ctx context.Context, s socketio.Conn, code, playerID string) {
	for {
		ch, cancel, err := srv.mgr.Subscribe(ctx, code)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("code", code).Str("sid", s.ID()).Msg("subscribe failed")
			}
			return
		}
		var last game.Session
		for snap := range ch {
			last = snap
			remaining, _ := srv.mgr.Remaining(code)
			s.Emit("game:state", game.NewView(snap, playerID, remaining))
		}
		cancel()
		if ctx.Err() != nil || last.Phase == game.PhaseFinished {
			return
		}
	}
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	payload := ErrorPayload(err)
	s.Emit("error", payload)
	return map[string]any{"error": payload["message"], "code": payload["code"]}
}

func (srv *Server) rateLimited(s socketio.Conn) map[string]any {
	payload := map[string]any{"code": "rate_limited", "message": "Too many actions, slow down"}
	s.Emit("error", payload)
	return map[string]any{"error": payload["message"], "code": payload["code"]}
}
