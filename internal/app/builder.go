package app

import (
	"fmt"
	"log/slog"

	"github.com/runixer/janiproxy/internal/assembler"
	"github.com/runixer/janiproxy/internal/config"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/outbound"
	"github.com/runixer/janiproxy/internal/pipeline"
	"github.com/runixer/janiproxy/internal/regex"
	"github.com/runixer/janiproxy/internal/storage"
)

// Services holds the request-processing chain. The server and janictl both
// build it through SetupServices so rendering matches what is proxied.
type Services struct {
	Engine    *regex.Engine
	Expander  *macro.Expander
	Assembler *assembler.Assembler
	Builder   *outbound.Builder
	Pipeline  *pipeline.Pipeline
}

// SetupServices wires the regex engine, macro expander, assembler and
// outbound builder into a pipeline. Extra expander options (a fixed clock
// in tests) are passed through.
func SetupServices(logger *slog.Logger, cfg *config.Config, opts ...macro.Option) (*Services, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	services := &Services{}
	services.Engine = regex.NewEngine(logger, cfg.Regex.GetMatchTimeout())
	services.Expander = macro.New(append([]macro.Option{macro.WithLogger(logger)}, opts...)...)
	services.Assembler = assembler.New(logger, services.Expander)
	services.Builder = outbound.NewBuilder(services.Assembler)
	services.Pipeline = pipeline.New(logger, services.Engine, services.Builder)
	return services, nil
}

// OpenStore opens the SQLite database at path and creates the schema.
// The caller closes the store.
func OpenStore(logger *slog.Logger, path string) (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(logger, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
