package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/server"
)

const (
	configFilePath  = "./configs/config.yaml"
	shutdownTimeout = 10 * time.Second
)

var (
	configPath   string
	logLevel     string
	question     string
	chunkSize    int
	chunkOverlap int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "document-qa",
		Short:         "Ask questions about your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env for API keys
			_ = godotenv.Load()
			setupLogger(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", configFilePath, "Path to the yaml config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	root.AddCommand(newAskCmd(), newChatCmd(), newChunksCmd(), newServeCmd())
	return root
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// loadConfig loads the config file and applies its log level unless one was
// given on the command line.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if logLevel == "" {
		setupLogger(cfg.Log.Level)
	}
	log.Debug().Interface("rag", cfg.RAG).Msg("Loaded config")
	return cfg
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ask <file>...",
		Short:   "Index files and answer one question",
		Example: `  document-qa ask report.pdf notes.docx --question "When is the deadline?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("--question is required")
			}
			ctx := cmd.Context()
			sess, err := newCLISession(loadConfig())
			if err != nil {
				return err
			}
			if err := uploadPaths(ctx, cmd.ErrOrStderr(), sess, args); err != nil {
				return err
			}
			history := sess.Query(ctx, question)
			fmt.Fprintln(cmd.OutOrStdout(), history[len(history)-1].Assistant)
			return nil
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "Question to answer")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [file]...",
		Short: "Interactive chat over the given files",
		Long: `Interactive chat over the given files.

Commands:
  /upload <file>...  replace the loaded documents
  /status            show the loaded documents
  /reset             clear documents and history
  /quit              exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newCLISession(loadConfig())
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if err := uploadPaths(ctx, cmd.ErrOrStderr(), sess, args); err != nil {
					return err
				}
			}
			return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sess)
		},
	}
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, sess *rag.Session) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, sess.Status())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/reset":
			fmt.Fprintln(out, sess.Reset(ctx))
		case line == "/status":
			fmt.Fprintln(out, sess.Status())
		case fields[0] == "/upload" && len(fields) == 1:
			fmt.Fprintln(out, models.NoFilesMessage)
		case fields[0] == "/upload":
			if err := uploadPaths(ctx, out, sess, fields[1:]); err != nil {
				fmt.Fprintln(out, err)
			}
		default:
			history := sess.Query(ctx, line)
			fmt.Fprintln(out, history[len(history)-1].Assistant)
		}
	}
}

func newChunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunks <file>...",
		Short: "Print the chunks a file produces, without embedding",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := previewChunks(afero.NewOsFs(), args, chunkSize, chunkOverlap)
			if err != nil {
				return err
			}
			return helper.PrettyPrint(cmd.OutOrStdout(), chunks)
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", config.DefaultChunkSize, "Characters per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", config.DefaultChunkOverlap, "Characters shared by consecutive chunks")
	return cmd
}

// previewChunks extracts and chunks paths the same way an upload does.
func previewChunks(fs afero.Fs, paths []string, size, overlap int) ([]models.Chunk, error) {
	c, err := chunker.New(size, overlap)
	if err != nil {
		return nil, err
	}
	p := parser.NewFileParser(fs)
	var chunks []models.Chunk
	for _, path := range paths {
		text, err := p.ParseToText(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping file")
			continue
		}
		chunks = append(chunks, c.ChunkDocument(fileName(path), text)...)
	}
	return chunks, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			srv := server.New(rag.NewManager(a.newServerSession), a.registry, a.cfg.Server.MaxUploadSize)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(cfg.Server.Address) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
