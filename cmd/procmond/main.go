// Command procmond watches running processes for sustained CPU/RAM
// anomalies and publishes classified alerts to the shared bus.
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
	"github.com/hostwatch/hostwatch/pkg/procmon"
	"github.com/hostwatch/hostwatch/pkg/sampler"
)

func main() {
	log.Println("Iniciando ProcessMonitor daemon...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fallo al cargar configuración: %v", err)
	}

	cpuThreshold := cfg.ProcessMonitor.CPUThreshold
	ramThreshold := cfg.ProcessMonitor.RAMThreshold
	minSeconds := cfg.ProcessMonitor.MinSecondsForAlert
	interval := time.Duration(cfg.ProcessMonitor.IntervalSeconds) * time.Second

	if cfg.ProcessMonitor.ConfigFile != "" {
		fileCfg, err := config.LoadProcessMonitorFile(cfg.ProcessMonitor.ConfigFile)
		if err != nil {
			log.Fatalf("fallo al leer %s: %v", cfg.ProcessMonitor.ConfigFile, err)
		}
		cpuThreshold = fileCfg.CPUThreshold
		ramThreshold = fileCfg.RAMThreshold
		minSeconds = fileCfg.MinSecondsForAlert
		interval = time.Duration(fileCfg.SampleIntervalSecs) * time.Second
		log.Printf("configuración de umbral cargada desde %s", cfg.ProcessMonitor.ConfigFile)
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

	p := procmon.New(procmon.Config{
		CPUThreshold:       cpuThreshold,
		RAMThreshold:       ramThreshold,
		MinSecondsForAlert: minSeconds,
	})

	s := sampler.New(p, bus, sampler.Config{
		Interval: interval,
		RunMode:  sampler.Continuous,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("monitoreando procesos: CPU>%.1f%%, RAM>%.1f%%, sostenido>=%ds", cpuThreshold, ramThreshold, minSeconds)
	if err := s.Run(ctx); err != nil {
		log.Fatalf("fallo en el ciclo de muestreo: %v", err)
	}

	log.Println("ProcessMonitor daemon detenido")
	os.Exit(0)
}
