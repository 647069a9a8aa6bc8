package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/logging"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/service"
	"go.uber.org/zap"
)

// Usage example on the command line:
// > PORT=8080 DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF go run main.go
func main() {
	configPtr := flag.String("config", "", "the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		fmt.Println("could not load configuration", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Println("could not create logger", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := metadata.NewContactStore()
	if err != nil {
		logger.Fatal("could not create metadata", zap.Error(err))
	}
	contactType, err := store.EntityType(metadata.ContactTypeName)
	if err != nil {
		logger.Fatal("could not find contact type", zap.Error(err))
	}

	sqlDB, err := service.CreateDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("could not open database", zap.Error(err))
	}
	s, err := service.New(sqlDB, cfg.Database.Driver, contactType, logger)
	if err != nil {
		logger.Fatal("could not prepare statements", zap.Error(err))
	}
	defer s.Close()

	router := s.SetupHttpRouter(service.RouterOptions{
		ServicePath: cfg.Server.ServicePath,
		Logging:     cfg.Server.Logging,
		Metrics:     cfg.Server.Metrics,
		Tracing:     cfg.Server.Tracing,
	})
	logger.Info("starting list-data service",
		zap.Int("port", cfg.Server.Port),
		zap.String("service_path", cfg.Server.ServicePath),
		zap.String("driver", cfg.Database.Driver),
	)
	if err := router.Run(":" + strconv.Itoa(cfg.Server.Port)); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
