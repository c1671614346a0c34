package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/famemely/internal/api"
	"github.com/kiliankoe/famemely/internal/config"
	"github.com/kiliankoe/famemely/internal/game"
	"github.com/kiliankoe/famemely/internal/prompt"
	"github.com/kiliankoe/famemely/internal/store/memory"
	"github.com/kiliankoe/famemely/internal/store/postgres"
	"github.com/kiliankoe/famemely/internal/store/sqlite"
	"github.com/kiliankoe/famemely/internal/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const version = "v0.3.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Famemely - Real-time meme caption party game

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  LOG_LEVEL           debug, info, warn or error (default: info)
  STORE_DRIVER        memory, sqlite or postgres (default: memory)
  SQLITE_PATH         SQLite database file (default: data/famemely.db)
  DATABASE_URL        PostgreSQL connection string (postgres driver)
  EXPORT_ENABLED      Append round results to a text file (default: false)
  EXPORT_FILE         Path of the results file (default: exports/results.txt)
  ALLOWED_ORIGINS     Comma separated CORS origins (default: *)
  WEB_DIR             Directory with a built web client to serve at /
  PROMPT_PROVIDER     static, openai or ollama (default: static)
  PROMPT_MODEL        Model used for generated prompts (default: gpt-4o-mini / llama3.2)
  OPENAI_API_KEY      OpenAI API key (openai provider)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  OLLAMA_HOST         Ollama host URL (default: http://localhost:11434)
  GAME_SEED           Fixed seed for judge and prompt picks (default: random)
  DEFAULT_PHOTOS      Offer the default photo set (default: true)
  ACTIONS_PER_SECOND  Socket actions allowed per connection per second (default: 5)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Famemely %s\n", version)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.Close()

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	deck := prompt.NewDeck(prompt.NewGenerator(cfg.PromptProvider, cfg.PromptModel, cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OllamaHost), seed)

	var photos []string
	if cfg.DefaultPhotos {
		photos = game.DefaultPhotoURLs
	}
	ctrl := game.NewController(seed, photos)
	ctrl.Prompts = deck
	mgr := game.NewManager(st, st, ctrl, game.ManagerOptions{ExportFile: cfg.ExportPath()})
	defer mgr.Shutdown()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestLogger())
	r.Use(api.CORS(cfg.AllowedOrigins))

	api.New(mgr).Register(r)
	io := ws.New(mgr, cfg.ActionsPerSecond).Mount(r)
	defer io.Close()

	if cfg.WebDir != "" {
		r.NoRoute(gin.WrapH(api.SPA(os.DirFS(cfg.WebDir))))
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return deck.Run(gctx, time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}

func openStore(ctx context.Context, cfg config.Config) (game.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresURL)
	default:
		return memory.New(), nil
	}
}
