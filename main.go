package main

import (
	"context"
	"embed"
	"log/slog"
	"os"
	"time"

	"aria/internal/config"
	"aria/internal/db"
	"aria/internal/library"
	"aria/internal/media"
	"aria/internal/platform"
	"aria/internal/player"
	"aria/internal/track"
	"aria/internal/transport"

	"github.com/lmittmann/tint"
	"github.com/wailsapp/wails/v3/pkg/application"
)

// Wails uses Go's `embed` package to embed the frontend files into the binary.
// Any files in the frontend/dist folder will be embedded into the binary and
// made available to the frontend.
// See https://pkg.go.dev/embed for more information.

//go:embed all:frontend/dist
var assets embed.FS

func init() {
	application.RegisterEvent[player.State](player.EventStateChanged)
	application.RegisterEvent[string](player.EventPlaybackError)
	application.RegisterEvent[library.ScanProgress](library.EventScanProgress)
	application.RegisterEvent[track.Track](library.EventImported)
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	paths, err := config.ResolvePaths("aria")
	if err != nil {
		logger.Error("failed to resolve app paths", "error", err)
		os.Exit(1)
	}

	sqliteDB, err := db.Bootstrap(paths.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer sqliteDB.Close()

	catalog := library.NewCatalog(sqliteDB)
	importer := library.NewImporter(catalog, logger)
	watchedRoots := library.NewWatchedRootRepository(sqliteDB)
	scanner := library.NewScanner(catalog, importer, watchedRoots, logger)

	store := player.NewStore(sqliteDB, logger)

	var controller *transport.Controller
	if primary, elementErr := media.NewElement(); elementErr != nil {
		logger.Warn("audio output disabled", "error", elementErr)
	} else {
		controller = transport.NewController(store, primary, logger)
		defer controller.Close()

		if secondary, secondaryErr := media.NewElement(); secondaryErr != nil {
			logger.Warn("crossfade disabled, no secondary audio output", "error", secondaryErr)
		} else {
			crossfade := transport.NewCrossfadeController(store, controller, secondary, logger)
			defer crossfade.Close()
		}
	}

	watcher, err := library.NewWatcher(catalog, importer, watchedRoots, logger)
	if err != nil {
		logger.Warn("folder watching disabled", "error", err)
		watcher = nil
	}

	app := application.New(application.Options{
		Name:        "Aria",
		Description: "Desktop music player",
		Services: []application.Service{
			application.NewService(NewBootstrapService(catalog, watchedRoots, scanner, store)),
			application.NewService(NewSettingsService(watchedRoots, watcher)),
			application.NewService(NewLibraryService(catalog, importer, scanner)),
			application.NewService(NewQueueService(store)),
			application.NewService(NewPlayerService(store)),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(assets),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
	})

	emit := func(eventName string, payload any) {
		app.Event.Emit(eventName, payload)
	}
	store.SetEmitter(emit)
	if controller != nil {
		controller.SetEmitter(emit)
	}
	scanner.SetEmitter(emit)

	platformService := platform.NewService(app, store)
	if err := platformService.Start(); err != nil {
		logger.Warn("platform media integration disabled", "error", err)
	}
	defer platformService.Stop()

	unsubscribePlatform := store.Subscribe(func(state player.State) {
		platformService.HandlePlayerState(state)
	})
	defer unsubscribePlatform()

	if watcher != nil {
		watcher.SetEmitter(emit)
		if err := watcher.Start(context.Background()); err != nil {
			logger.Warn("folder watching disabled", "error", err)
		}
		defer watcher.Close()
	}

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title: "Aria",
		Mac: application.MacWindow{
			InvisibleTitleBarHeight: 50,
			Backdrop:                application.MacBackdropTranslucent,
			TitleBar:                application.MacTitleBarHiddenInset,
		},
		BackgroundColour: application.NewRGB(16, 14, 22),
		URL:              "/",
	})

	if err := app.Run(); err != nil {
		logger.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}
