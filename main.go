package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mala-sight/analyzer"
	"mala-sight/config"
	"mala-sight/db"
	"mala-sight/diagnosis"
	"mala-sight/livefeed"
	"mala-sight/models"
	"mala-sight/overlay"
	"mala-sight/relay"
	"mala-sight/session"
	"mala-sight/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const dimensionFetchTimeout = 30 * time.Second

var (
	serveProtocol string
	servePort     string

	analyzeBackend string
	analyzeTimeout time.Duration
)

func main() {
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mala-sight",
		Short:        "Malaria screening station",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the station server",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	serveCmd.Flags().StringVar(&serveProtocol, "proto", "", "Protocol to use (http or https)")
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to use")

	analyzeCmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Submit one image and print the diagnostic checklist",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyzeCmd,
	}
	analyzeCmd.Flags().StringVar(&analyzeBackend, "backend", "", "Analysis service origin (default BACKEND_URL)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "Request timeout (default ANALYZE_TIMEOUT)")

	rootCmd.AddCommand(serveCmd, analyzeCmd)
	return rootCmd
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveProtocol != "" {
		cfg.Protocol = strings.ToLower(serveProtocol)
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := utils.GetLogger()
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	archive, err := db.NewArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("failed to open capture archive: %w", err)
	}
	var hubArchive relay.Archive
	if archive != nil {
		hubArchive = archive
		defer archive.Close()
	} else {
		log.Println("Capture archive disabled")
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	hub := relay.NewHub(hubArchive, relay.WithRateLimit(cfg.FrameRateLimit, cfg.FrameBurst))
	ingestor := livefeed.NewIngestor(hub, cfg.StreamID,
		livefeed.WithCollection(cfg.CaptureCollection),
		livefeed.WithFrameHook(func(frame models.LiveFrame) { broadcastFrame(server, frame) }),
	)

	client := analyzer.NewClient(cfg.BackendURL, cfg.AnalyzeTimeout)
	var controller *session.Controller
	controller = session.NewController(client, ingestor, session.NewPreviewRegistry(cfg.PreviewTTL),
		session.WithAssetOrigin(client.Origin()),
		session.WithResolver(overlay.NewResolver(dimensionFetchTimeout, cfg.DimensionCacheTTL)),
		session.WithChangeHook(func() { broadcastSession(server, controller) }),
	)
	defer func() {
		controller.Close()
		controller.Wait()
		ingestor.WaitArchives()
	}()

	registerSocketHandlers(server, newSocketController(controller, hub, cfg.StreamID))

	st := &station{
		controller: controller,
		hub:        hub,
		archive:    archive,
		collection: cfg.CaptureCollection,
	}
	mux := newRouter(st, server, cfg.StaticDir)

	logger.InfoContext(ctx, "station configured",
		slog.String("backend", client.Origin()),
		slog.String("feed", ingestor.Path()),
		slog.String("archive", cfg.Archive.Backend),
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := server.Serve(); err != nil && egCtx.Err() == nil {
			return fmt.Errorf("socketio listen error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return server.Close()
	})
	eg.Go(func() error {
		return serveHTTP(egCtx, cfg, mux)
	})

	if err := eg.Wait(); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "station stopped with error", slog.Any("error", err))
		return err
	}
	return nil
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if analyzeBackend != "" {
		cfg.BackendURL = analyzeBackend
	}
	if analyzeTimeout > 0 {
		cfg.AnalyzeTimeout = analyzeTimeout
	}

	path := args[0]
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	artifact := models.Artifact{Name: filepath.Base(path), MIME: http.DetectContentType(data), Data: data}

	client := analyzer.NewClient(cfg.BackendURL, cfg.AnalyzeTimeout)
	res, err := client.Analyze(cmd.Context(), artifact)
	if err != nil {
		return err
	}

	printChecklist(cmd.OutOrStdout(), client.Origin(), res)
	return nil
}

func printChecklist(w io.Writer, origin string, res *models.AnalysisResult) {
	n := diagnosis.Normalize(res)
	flags := diagnosis.DeriveFlags(res, n)
	species := diagnosis.DetectSpecies(res.OverallDiagnosis)
	gallery := diagnosis.Aggregate(res, n)

	mark := func(on bool) string {
		if on {
			return "[x]"
		}
		return "[ ]"
	}

	fmt.Fprintf(w, "Diagnosis:       %s\n", res.OverallDiagnosis)
	fmt.Fprintf(w, "Cells segmented: %d\n", res.TotalCellsSegmented)
	fmt.Fprintf(w, "Abnormal cells:  %d\n", gallery.Stats.AbnormalCount)
	fmt.Fprintf(w, "Average ratio:   %sx\n", gallery.Stats.AverageRatioText())
	if res.OriginalImageURL != "" {
		fmt.Fprintf(w, "Image:           %s\n", analyzer.ResolveAsset(origin, res.OriginalImageURL))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "P. falciparum %s chromatin %s appliqué\n", mark(flags.Chromatin), mark(flags.Applique))
	fmt.Fprintf(w, "P. vivax      %s schüffner %s enlarged %s amoeboid\n", mark(flags.Schuffner), mark(flags.Enlarged), mark(flags.Amoeboid))
	fmt.Fprintf(w, "P. malariae   %s smaller %s band form %s basket form\n", mark(flags.Smaller), mark(flags.BandForm), mark(flags.BasketForm))

	if routes := species.GuideRoutes(); len(routes) > 0 {
		fmt.Fprintln(w)
		for _, route := range routes {
			fmt.Fprintf(w, "Treatment guide: %s\n", route)
		}
	}
	if res.Message != "" {
		fmt.Fprintf(w, "\n%s\n", res.Message)
	}
}
