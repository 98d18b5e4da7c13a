// Command portscand periodically sweeps a configured port range and
// publishes classified alerts to the shared bus, persisting them to
// SQLite for the dashboard to read.
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
	"github.com/hostwatch/hostwatch/pkg/portscan"
	"github.com/hostwatch/hostwatch/pkg/sampler"
)

func main() {
	log.Println("Iniciando PortScan daemon...")

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

	p, err := portscan.New(portscan.Config{
		Host:     cfg.PortScan.Host,
		PortSpec: cfg.PortScan.PortSpec,
		Timeout:  time.Duration(cfg.PortScan.TimeoutSeconds) * time.Second,
		PoolSize: cfg.PortScan.PoolSize,
	})
	if err != nil {
		log.Fatalf("fallo al construir sonda de puertos: %v", err)
	}

	s := sampler.New(p, bus, sampler.Config{
		Interval: time.Duration(cfg.PortScan.IntervalSeconds) * time.Second,
		RunMode:  sampler.Continuous,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("escaneando %s (%s) cada %ds", cfg.PortScan.Host, cfg.PortScan.PortSpec, cfg.PortScan.IntervalSeconds)
	if err := s.Run(ctx); err != nil {
		log.Fatalf("fallo en el ciclo de muestreo: %v", err)
	}

	log.Println("PortScan daemon detenido")
	os.Exit(0)
}
