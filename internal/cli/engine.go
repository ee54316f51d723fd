package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sshdeck/sshdeck/internal/clipboard"
	"github.com/sshdeck/sshdeck/internal/config"
	"github.com/sshdeck/sshdeck/internal/conflict"
	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/history"
	"github.com/sshdeck/sshdeck/internal/models"
	"github.com/sshdeck/sshdeck/internal/progress"
	"github.com/sshdeck/sshdeck/internal/remote"
	"github.com/sshdeck/sshdeck/internal/services"
	"github.com/sshdeck/sshdeck/internal/transfer"
	"github.com/sshdeck/sshdeck/internal/tree"
)

// engine bundles one connected session with every component wired to it.
type engine struct {
	cfg       *config.Config
	bus       *events.Bus
	sessions  *remote.Manager
	remote    *remote.SFTPService
	trees     *tree.Store
	coord     *transfer.Coordinator
	conflicts *conflict.Center
	transfers *services.TransferService
	files     *services.FileService
	clip      *clipboard.Engine
	hist      *history.Store
	ui        *progress.UI
	sessionID string
}

// connectEngine loads configuration, connects the selected session, and wires
// the full component graph.
func connectEngine(ctx context.Context) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg, err := resolveSession(cfg)
	if err != nil {
		return nil, err
	}

	password := ""
	if askPassword {
		password, err = promptPassword(fmt.Sprintf("Password for %s@%s: ", sessionCfg.User, sessionCfg.Host))
		if err != nil {
			return nil, err
		}
	}

	bus := events.NewBus(256)
	sessions := remote.NewManager(logger)

	sessionID, err := sessions.Connect(ctx, sessionCfg, password)
	if err != nil {
		bus.Close()
		return nil, err
	}

	svc := remote.NewSFTPService(sessions, bus, logger, cfg.Transfer.ProgressInterval())
	trees := tree.NewStore(svc, bus, logger, models.SortSpec{
		Field:     cfg.Tree.SortField,
		Ascending: cfg.Tree.SortAscending,
	})
	coord := transfer.NewCoordinator(svc, bus, logger, transfer.Config{
		Timeout:     cfg.Transfer.Timeout(),
		GracePeriod: cfg.Transfer.GracePeriod(),
	})
	conflicts := conflict.NewCenter(svc, bus, logger)
	conflicts.Run()

	var hist *history.Store
	var recorder services.Recorder
	if cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path, err = config.DefaultHistoryPath()
			if err != nil {
				logger.Warn().Err(err).Msg("history disabled: no data path")
			}
		}
		if path != "" {
			hist, err = history.Open(path, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("history disabled")
			} else {
				recorder = hist
				if cfg.History.RetentionDays > 0 {
					retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
					if _, err := hist.Prune(retention); err != nil {
						logger.Warn().Err(err).Msg("history prune failed")
					}
				}
			}
		}
	}

	e := &engine{
		cfg:       cfg,
		bus:       bus,
		sessions:  sessions,
		remote:    svc,
		trees:     trees,
		coord:     coord,
		conflicts: conflicts,
		transfers: services.NewTransferService(coord, conflicts, trees, recorder, logger),
		files:     services.NewFileService(svc, trees, logger),
		clip:      clipboard.NewEngine(coord, trees, logger),
		hist:      hist,
		sessionID: sessionID,
	}
	return e, nil
}

// startUI attaches the live progress renderer. Only transfer commands want it.
func (e *engine) startUI() {
	e.ui = progress.NewUI(e.bus)
	e.ui.Run()
}

func (e *engine) close() {
	if e.ui != nil {
		e.ui.Stop()
	}
	e.conflicts.Stop()
	if e.hist != nil {
		e.hist.Close()
	}
	e.sessions.CloseAll()
	e.bus.Close()
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	return config.LoadDefault()
}

// resolveSession picks the saved profile named by --session, overlaid with
// any ad-hoc connection flags. Bare flags without a profile also work.
func resolveSession(cfg *config.Config) (config.SessionConfig, error) {
	var sc config.SessionConfig
	if sessionName != "" {
		saved, ok := cfg.Session(sessionName)
		if !ok {
			return sc, fmt.Errorf("unknown session profile %q", sessionName)
		}
		sc = saved
	}

	if host != "" {
		sc.Host = host
	}
	if user != "" {
		sc.User = user
	}
	if keyPath != "" {
		sc.KeyPath = keyPath
	}
	if port != 22 || sc.Port == 0 {
		sc.Port = port
	}
	if insecure {
		sc.Insecure = true
	}

	if sc.Host == "" {
		return sc, fmt.Errorf("no host: use --session or --host")
	}
	if sc.User == "" {
		return sc, fmt.Errorf("no user: use --session or --user")
	}
	return sc, nil
}
