// Command sessionkit runs interview-practice sessions from the terminal:
// a text interview loop against the coaching backend, plus inspection of
// saved session state.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/interviewlab/sessionkit/internal/typewriter"
	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/checkpoint"
	"github.com/interviewlab/sessionkit/pkg/closing"
	"github.com/interviewlab/sessionkit/pkg/config"
	"github.com/interviewlab/sessionkit/pkg/observability"
	"github.com/interviewlab/sessionkit/pkg/session"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	configFile string
	freshStart bool
)

func main() {
	root := &cobra.Command{
		Use:     "sessionkit",
		Short:   "Live interview-practice sessions",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a text interview session",
		RunE:  runInterview,
	}
	runCmd.Flags().BoolVar(&freshStart, "fresh", false, "discard any saved session and start over")

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show the saved session state",
		RunE:  showState,
	}

	root.AddCommand(runCmd, stateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration: %w (set SESSIONKIT_BACKEND_URL or pass --config)", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func runInterview(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, log,
		backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	obsServer := observability.NewServer(cfg.Observability.MetricsPort)
	g.Go(func() error {
		if serr := obsServer.Start(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return serr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = observability.ShutdownTracing(shutdownCtx)
		return obsServer.Shutdown(shutdownCtx)
	})

	store, err := newCheckpointStore(ctx, cfg)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	defer func() { _ = store.Close() }()

	sess := session.NewTextSession(client, closing.NewDetector(), log)
	sess.UseStore(store)
	if err := startOrResume(ctx, client, sess, log); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	interviewErr := interviewLoop(ctx, sess)
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("shutdown")
	}
	return interviewErr
}

// newCheckpointStore builds the configured local checkpoint mirror.
func newCheckpointStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Provider {
	case "", "memory":
		return checkpoint.NewMemoryStore(), nil
	case "redis":
		return checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:     cfg.Checkpoint.Redis.Addr,
			Password: cfg.Checkpoint.Redis.Password,
			DB:       cfg.Checkpoint.Redis.DB,
			TTL:      cfg.Checkpoint.Redis.TTL,
		})
	case "firestore":
		return checkpoint.NewFirestoreStore(ctx, checkpoint.FirestoreConfig{
			ProjectID:       cfg.Checkpoint.Firestore.ProjectID,
			CredentialsFile: cfg.Checkpoint.Firestore.Credentials,
			Collection:      cfg.Checkpoint.Firestore.Collection,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint provider: %s", cfg.Checkpoint.Provider)
	}
}

func startOrResume(ctx context.Context, client *backend.Client, sess *session.TextSession, log zerolog.Logger) error {
	if freshStart {
		opening, err := sess.Start(ctx, true)
		if err != nil {
			return err
		}
		render(opening)
		return nil
	}

	state, err := client.TextSessionState(ctx)
	if err != nil && !errors.Is(err, backend.ErrNoCheckpoint) {
		return err
	}
	if err == nil && state.HasState && len(state.Transcript) > 0 {
		fmt.Printf("Found a saved session: %d turns, %s elapsed, status %s.\n",
			len(state.Transcript), (time.Duration(state.ElapsedTime) * time.Second), state.Status)
		greeting, rerr := sess.Resume(ctx)
		if rerr != nil {
			return rerr
		}
		render(greeting)
		return nil
	}

	log.Debug().Msg("no saved session, starting fresh")
	opening, err := sess.Start(ctx, false)
	if err != nil {
		return err
	}
	render(opening)
	return nil
}

// render types an agent utterance to stdout, then finishes the line.
func render(text string) {
	if text == "" {
		return
	}
	done := make(chan struct{})
	var (
		once sync.Once
		last string
	)
	tw := typewriter.New(0, 0, func(s string) {
		fmt.Print(s[len(last):])
		last = s
		if len(s) == len(text) {
			once.Do(func() { close(done) })
		}
	})
	fmt.Print("\ninterviewer> ")
	tw.Append(text)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		tw.Complete(text)
	}
	tw.Stop()
	fmt.Println()
}

func interviewLoop(ctx context.Context, sess *session.TextSession) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()
	line.SetCtrlCAborts(true)

	fmt.Println(`Type your answers. Commands: /pause, /end.`)
	for {
		if ctx.Err() != nil {
			return pauseQuietly(sess)
		}

		input, err := line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return pauseQuietly(sess)
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch input {
		case "/pause":
			if err := sess.Pause(ctx); err != nil {
				fmt.Println(session.UserMessage(err))
				continue
			}
			fmt.Println("Session paused. Run again to resume.")
			return nil
		case "/end":
			return endInterview(ctx, sess)
		}

		turn, err := sess.Send(ctx, input)
		if err != nil {
			fmt.Println(session.UserMessage(err))
			continue
		}
		render(turn.Reply)
		if turn.MaxQuestions > 0 {
			fmt.Printf("(question %d of %d)\n", turn.QuestionCount, turn.MaxQuestions)
		}
		if turn.Closing {
			fmt.Println("\nThe interviewer has wrapped up.")
			return endInterview(ctx, sess)
		}
	}
}

func endInterview(ctx context.Context, sess *session.TextSession) error {
	feedbackID, err := sess.End(ctx)
	if err != nil {
		if errors.Is(err, session.ErrInsufficientTranscript) {
			fmt.Println("No responses were recorded, so there is nothing to review.")
			return nil
		}
		return err
	}
	fmt.Printf("Session complete. Feedback is being prepared (id %s).\n", feedbackID)
	return nil
}

func pauseQuietly(sess *session.TextSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Pause(ctx); err != nil && !errors.Is(err, session.ErrNotConnected) {
		return err
	}
	fmt.Println("\nSession paused. Run again to resume.")
	return nil
}

func showState(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, log,
		backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return err
	}

	state, err := client.TextSessionState(cmd.Context())
	if err != nil {
		if errors.Is(err, backend.ErrNoCheckpoint) {
			fmt.Println("No saved session.")
			return nil
		}
		return err
	}
	if !state.HasState {
		fmt.Println("No saved session.")
		return nil
	}

	fmt.Printf("Status:        %s\n", state.Status)
	fmt.Printf("Turns:         %d\n", len(state.Transcript))
	fmt.Printf("Elapsed:       %s\n", time.Duration(state.ElapsedTime)*time.Second)
	fmt.Printf("Questions:     %d\n", state.QuestionCount)
	fmt.Printf("Words spoken:  %d\n", state.Metrics.TotalWordsSpoken)
	fmt.Printf("Filler words:  %d", state.Metrics.FillerWordCount)
	if len(state.Metrics.FillerWordsDetected) > 0 {
		fmt.Printf(" (%s)", strings.Join(state.Metrics.FillerWordsDetected, ", "))
	}
	fmt.Println()
	return nil
}
