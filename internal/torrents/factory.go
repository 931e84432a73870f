package torrents

import (
	"fmt"
	"log/slog"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/services"
)

// New builds the torrent client selected by torrents.backend.
func New(cfg *config.Config, logger *slog.Logger) (Client, error) {
	componentLogger := logging.NewComponentLogger(logger, "torrents")
	switch cfg.Torrents.Backend {
	case config.BackendQBittorrent:
		return NewQBittorrent(cfg, componentLogger)
	case config.BackendTransmission:
		return NewTransmission(cfg, componentLogger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "torrents", "new",
			fmt.Sprintf("unknown backend %q", cfg.Torrents.Backend), nil)
	}
}
