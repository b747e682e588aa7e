package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/northwind-health/scribe/internal/archive"
	"github.com/northwind-health/scribe/internal/config"
	"github.com/northwind-health/scribe/internal/logging"
	"github.com/northwind-health/scribe/internal/notes"
	"github.com/northwind-health/scribe/internal/objectstore"
	"github.com/northwind-health/scribe/internal/recording"
	"github.com/northwind-health/scribe/internal/server"
	"github.com/northwind-health/scribe/internal/storage"
	"github.com/northwind-health/scribe/internal/sweep"
	"github.com/northwind-health/scribe/internal/transcription"
)

// finisher runs the best-effort post-processing after a recording
// finalizes: visit-note generation and offsite archival. Neither can fail
// the capture path.
type finisher struct {
	log      *zap.SugaredLogger
	notes    *notes.Writer
	archiver *archive.Archiver
	objects  *objectstore.FSStore
}

func (f *finisher) RecordingFinished(encounterID, objectKey string) {
	if f.notes != nil && encounterID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := f.notes.Generate(ctx, encounterID); err != nil {
				f.log.Warnw("visit note generation failed", "encounter_id", encounterID, "error", err)
			}
		}()
	}

	if f.archiver != nil && objectKey != "" {
		go func() {
			r, err := f.objects.Open(objectKey)
			if err != nil {
				f.log.Warnw("open audio for archive failed", "object_key", objectKey, "error", err)
				return
			}
			defer func() { _ = r.Close() }()

			if err := f.archiver.Archive(path.Base(objectKey), r); err != nil {
				f.log.Warnw("archive audio failed", "object_key", objectKey, "error", err)
			}
		}()
	}
}

func main() {
	log := logging.Init()
	defer func() { _ = log.Sync() }()

	configPath := flag.String("config", "scribe.yaml", "path to YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("load config failed", "error", err)
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalw("storage init failed", "error", err)
	}
	defer func() { _ = store.Close() }()

	objects, err := objectstore.NewFSStore(cfg.ObjectDir)
	if err != nil {
		log.Fatalw("object store init failed", "error", err)
	}

	hub := server.NewHub(log)
	coordinator := recording.NewCoordinator(store, objects, log)

	var (
		dialer transcription.LiveDialer
		batch  transcription.BatchTranscriber
	)
	if cfg.DeepgramAPIKey != "" {
		dgOpts := transcription.DeepgramOptions{
			APIKey:       cfg.DeepgramAPIKey,
			MedicalModel: cfg.MedicalModel,
			SampleRate:   cfg.SampleRate,
		}
		dialer = transcription.NewDeepgramDialer(dgOpts, log)
		batch = transcription.NewDeepgramBatch(dgOpts)
	}

	bridge := transcription.NewBridge(store, batch, dialer, hub, transcription.Options{
		FlushBytes:    cfg.BacklogFlushBytes,
		FlushInterval: cfg.ParsedBacklogFlushInterval(),
		Retention:     cfg.ParsedSegmentRetention(),
		MedicalModel:  cfg.MedicalModel,
		GeneralModel:  cfg.GeneralModel,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := sweep.New(store, objects, bridge, cfg.ParsedOrphanAge(), cfg.ParsedSweepInterval(), log)
	go sweeper.Run(ctx)

	post := &finisher{log: log, objects: objects}
	if cfg.OpenAIAPIKey != "" {
		post.notes = notes.NewWriter(cfg.OpenAIAPIKey, cfg.NoteModel, store)
	}
	if cfg.GDriveFolderID != "" {
		archiver, archiveErr := archive.NewArchiver(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if archiveErr != nil {
			log.Warnw("drive archival disabled", "error", archiveErr)
		} else {
			post.archiver = archiver
		}
	}

	handler := server.Handler(server.Deps{
		Log:         log,
		Hub:         hub,
		Recorder:    coordinator,
		Transcriber: bridge,
		Store:       store,
		Audio:       objects,
		Finisher:    post,
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Infow("scribed listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("scribed shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown failed", "error", err)
	}
}
