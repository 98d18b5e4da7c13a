// Command fsmond watches removable-storage mounts for file additions,
// deletions, and modifications, publishing classified alerts to the shared
// bus and persisting each device's manifest for audit history.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/config"
	"github.com/hostwatch/hostwatch/pkg/database"
	"github.com/hostwatch/hostwatch/pkg/dispatch"
	"github.com/hostwatch/hostwatch/pkg/fsmon"
	"github.com/hostwatch/hostwatch/pkg/sampler"
)

func main() {
	log.Println("Iniciando FilesystemMonitor daemon...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fallo al cargar configuración: %v", err)
	}

	db, err := database.NewDB(&cfg.Dashboard.Database)
	if err != nil {
		log.Fatalf("fallo al inicializar base de datos: %v", err)
	}
	defer db.Close()

	alertRepo, err := database.NewAlertRepository(db)
	if err != nil {
		log.Fatalf("fallo al inicializar repositorio de alertas: %v", err)
	}

	bus := alertbus.New()
	bus.SetPersister(alertRepo)
	if err := bus.LoadPersisted(); err != nil {
		log.Printf("advertencia: fallo al cargar alertas persistidas: %v", err)
	}

	poolWidth := cfg.FilesystemMonitor.PoolWidth
	if poolWidth <= 0 {
		poolWidth = 4
	}

	p := fsmon.New(fsmon.Config{
		Dispatcher:             dispatch.New(poolWidth, log.Default()),
		ChangeThresholdPercent: cfg.FilesystemMonitor.ChangeThresholdPercent,
	})

	s := sampler.New(p, bus, sampler.Config{
		Interval: time.Duration(cfg.FilesystemMonitor.IntervalSeconds) * time.Second,
		RunMode:  sampler.Continuous,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("monitoreando almacenamiento extraíble, umbral de cambio %.1f%%, pool de %d", cfg.FilesystemMonitor.ChangeThresholdPercent, poolWidth)
	if err := s.Run(ctx); err != nil {
		log.Fatalf("fallo en el ciclo de muestreo: %v", err)
	}

	log.Println("FilesystemMonitor daemon detenido")
	os.Exit(0)
}
