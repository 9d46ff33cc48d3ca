package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/marketplace-chat/internal/auth"
	"github.com/shinyyama/marketplace-chat/internal/config"
	"github.com/shinyyama/marketplace-chat/internal/media"
	"github.com/shinyyama/marketplace-chat/internal/repository"
	"github.com/shinyyama/marketplace-chat/internal/service"
	"github.com/shinyyama/marketplace-chat/internal/ws"
	"gorm.io/gorm"
)

type Server struct {
	e        *echo.Echo
	verifier auth.TokenVerifier
	engine   *ws.Engine
	itemRepo repository.ItemRepository
	userRepo repository.UserRepository
	convRepo repository.ConversationRepository
	upgrader websocket.Upgrader
	sha      string
	build    string
}

func New(db *gorm.DB, cfg *config.Config, sha, buildTime string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	allowOrigin := originChecker(cfg.AllowedOrigins)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowOrigin(origin), nil
		},
	}))

	verifier := newVerifier(e, cfg)

	var images media.Resolver = media.Passthrough{}
	if cfg.MediaBucket != "" {
		r, err := media.NewGCSResolver(context.Background(), cfg.MediaBucket, cfg.MediaCredentialsFile, cfg.MediaURLTTL)
		if err != nil {
			e.Logger.Fatalf("failed to init media resolver: %v", err)
		}
		images = r
	}

	itemRepo := repository.NewItemRepository(db)
	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	convSvc := service.NewConversationService(convRepo, itemRepo, userRepo, images)

	hub := ws.NewHub()
	engine := ws.NewEngine(hub, verifier, convSvc)

	s := &Server{
		e:        e,
		verifier: verifier,
		engine:   engine,
		itemRepo: itemRepo,
		userRepo: userRepo,
		convRepo: convRepo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowOrigin(origin)
			},
		},
		sha:   sha,
		build: buildTime,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})
	e.GET("/ws", s.handleWS)

	return s
}

func newVerifier(e *echo.Echo, cfg *config.Config) auth.TokenVerifier {
	if cfg.AuthMode == "jwt" {
		if cfg.JWTSecret == "" {
			e.Logger.Fatalf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
		return auth.NewJWTVerifier(cfg.JWTSecret)
	}
	v, err := auth.NewFirebaseVerifier(context.Background(), cfg.FirebaseProjectID)
	if err != nil {
		e.Logger.Fatalf("failed to init firebase auth: %v", err)
	}
	return v
}

// originChecker admits localhost, vercel preview deployments, and any
// origin listed in ALLOWED_ORIGINS.
func originChecker(allowed []string) func(string) bool {
	return func(origin string) bool {
		low := strings.ToLower(origin)
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.HasSuffix(u.Hostname(), "vercel.app")
	}
}

// handleWS authenticates the handshake, upgrades the connection, and hands
// it to the protocol engine until disconnect. The credential travels in the
// session cookie; the token query parameter is the fallback for clients
// that cannot set cookies on a websocket handshake.
func (s *Server) handleWS(c echo.Context) error {
	cred := credentialFromRequest(c.Request())
	if cred == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	uid, err := s.verifier.Verify(c.Request().Context(), cred)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		return nil
	}
	s.engine.ServeConn(c.Request().Context(), conn, uid, cred)
	return nil
}

func credentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie("session"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) SetDB(db *gorm.DB) {
	s.itemRepo.SetDB(db)
	s.userRepo.SetDB(db)
	s.convRepo.SetDB(db)
}
