package cli

import (
	"context"
	"fmt"

	"github.com/tOgg1/omega/internal/orchestrator"
)

// startRuntime opens the database and starts an orchestrator. Drivers only
// run when drivers is set, whatever the config says.
func startRuntime(ctx context.Context, drivers bool) (*orchestrator.Orchestrator, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	cfg := *appConfig
	cfg.Loops.DriversEnabled = drivers

	database, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(&cfg, database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	if err := o.Start(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// stopRuntime stops o, folding its error into err.
func stopRuntime(o *orchestrator.Orchestrator, err *error) {
	stopErr := o.Stop(context.Background())
	if stopErr == nil {
		return
	}
	if *err == nil {
		*err = stopErr
		return
	}
	logger.Warn().Err(stopErr).Msg("runtime stop failed")
}
