package cli

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/chorus/internal/api"
	"github.com/felixgeelhaar/chorus/internal/config"
	"github.com/felixgeelhaar/chorus/internal/model"
	"github.com/felixgeelhaar/chorus/internal/observe"
	"github.com/felixgeelhaar/chorus/internal/policy"
	"github.com/felixgeelhaar/chorus/internal/session"
	"github.com/felixgeelhaar/chorus/internal/ui/tui"
)

var (
	configPath   string
	verbose      bool
	engineType   string
	modelName    string
	systemPrompt string
	transcribe   bool
	ciMode       bool
	interactive  bool
	listenAddr   string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "Multimodal conversation runtime",
	Long: `Chorus attaches images and audio to text conversations with a local or
remote language model, managing embedding caches and bounded context windows
between turns.`,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a conversation",
	Run: func(cmd *cobra.Command, args []string) {
		runChat()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve conversations over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past sessions",
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		sessions, err := s.ListSessions()
		if err != nil {
			fmt.Printf("Failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Println("(no sessions)")
			return
		}
		for _, rec := range sessions {
			fmt.Printf("%s  %s  %s/%s\n", rec.ID, rec.CreatedAt.Format("2006-01-02 15:04"), rec.Engine, rec.Model)
		}
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(chatCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(sessionsCmd)

	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (JSON or YAML)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().StringVarP(&engineType, "engine", "e", "", "Text engine (stub, ollama, openai, gemini)")
	RootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model name (default depends on engine)")

	chatCmd.Flags().StringVarP(&systemPrompt, "system", "s", "", "System prompt for the session")
	chatCmd.Flags().BoolVarP(&transcribe, "transcribe", "t", false, "Request transcripts for audio attachments")
	chatCmd.Flags().BoolVar(&ciMode, "ci", false, "CI mode: JSON output, non-interactive")
	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (overrides config)")
}

func runChat() {
	obs := newObserver()
	defer obs.Close()

	cfg := loadConfig(obs)
	storeLayer := getStore()
	defer storeLayer.Close()

	eng, proc, err := buildEngine(cfg, storeLayer)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to initialize engine")
	}

	mdl, err := model.New(proc, obs, model.Config{
		ImageCacheCapacity: cfg.Cache.ImageCapacity,
		AudioCacheCapacity: cfg.Cache.AudioCapacity,
	})
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to initialize model")
	}
	defer mdl.Dispose()

	genCtx, err := mdl.NewContext(cfg.Window.MaxImages, cfg.Window.MaxAudio)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to create context")
	}
	defer genCtx.Dispose()

	prompt := systemPrompt
	if prompt == "" {
		prompt = cfg.SystemPrompt
	}
	guard := policy.New(cfg.Policy)
	sess := session.New(genCtx, eng, obs, session.Options{
		SystemPrompt: prompt,
		Guard:        guard,
		Sampling:     cfg.Sampling,
	})
	defer sess.Dispose()

	if interactive {
		runner := NewRunner(obs, storeLayer, sess, nil, transcribe)
		runner.Guard = guard
		var program *tea.Program
		tuiModel := tui.NewModel("Chorus", func(line string) {
			go func() {
				if err := runner.HandleLine(context.Background(), line); err != nil {
					runner.UI.Log("error: " + err.Error())
				}
			}()
		})
		program = tea.NewProgram(tuiModel)
		runner.UI = tui.NewTUI(program)

		if _, err := program.Run(); err != nil {
			fmt.Printf("Alas, there's been an error: %v", err)
			os.Exit(1)
		}
		return
	}

	runner := NewRunner(obs, storeLayer, sess, nil, transcribe)
	runner.Guard = guard
	if err := runner.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
}

func runServe() {
	obs := newObserver()
	defer obs.Close()

	cfg := loadConfig(obs)
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	storeLayer := getStore()
	defer storeLayer.Close()

	eng, proc, err := buildEngine(cfg, storeLayer)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to initialize engine")
	}

	mdl, err := model.New(proc, obs, model.Config{
		ImageCacheCapacity: cfg.Cache.ImageCapacity,
		AudioCacheCapacity: cfg.Cache.AudioCapacity,
	})
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to initialize model")
	}
	defer mdl.Dispose()

	server := api.NewServer(mdl, eng, obs, storeLayer, cfg)
	if err := server.Serve(); err != nil {
		obs.Log().Fatal().Err(err).Msg("Server stopped")
	}
}

func newObserver() *observe.Observer {
	var obs *observe.Observer
	if ciMode {
		obs = observe.NewJSON(os.Stdout, verbose)
	} else {
		obs = observe.New(os.Stdout, verbose)
	}
	if verbose {
		obs.Events().SubscribeAll(func(e observe.Event) {
			obs.Log().Debug().Str("event", string(e.Type)).Str("session", e.SessionID).Msg("runtime event")
		})
	}
	return obs
}

func loadConfig(obs *observe.Observer) config.Config {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			obs.Log().Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
		}
		cfg = *loaded
	}
	if engineType != "" {
		cfg.Engine = engineType
	}
	if modelName != "" {
		cfg.Model = modelName
	}
	if err := cfg.Validate(); err != nil {
		obs.Log().Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}
