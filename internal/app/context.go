package app

import (
	"context"
	"errors"
	"fmt"

	"fiotrack/internal/config"
	"fiotrack/internal/repo"
)

// ResolveConfig picks the active plant and ensures a config exists,
// seeding defaults when missing. A fiotrack.yml in the workspace wins;
// otherwise the DB-stored config is used, and a default is seeded when
// neither exists.
func ResolveConfig(ctx context.Context, workspace, plantOverride string, r repo.Repo) (string, *config.Config, error) {
	if fileCfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if fileCfg != nil {
		plantID := fileCfg.Plant.ID
		if plantOverride != "" {
			plantID = plantOverride
			fileCfg.Plant.ID = plantID
		}
		if err := r.UpsertPlantConfig(ctx, plantID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store plant config: %w", err)
		}
		return plantID, fileCfg, nil
	}

	plantID := plantOverride
	if plantID == "" {
		if id, err := r.SinglePlant(ctx); err == nil {
			plantID = id
		} else {
			plantID = "default"
		}
	}
	cfg, err := r.GetPlantConfig(ctx, plantID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(plantID)
		if err := r.UpsertPlantConfig(ctx, plantID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed plant config: %w", err)
		}
	}
	cfg.Plant.ID = plantID
	return plantID, cfg, nil
}
