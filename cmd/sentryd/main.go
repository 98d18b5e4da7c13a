// Command sentryd serves the read-only dashboard API over the alert bus:
// health, alert listing, severity summary, and on-demand report rendering.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hostwatch/hostwatch/pkg/acme"
	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/api/handlers"
	"github.com/hostwatch/hostwatch/pkg/api/middleware"
	"github.com/hostwatch/hostwatch/pkg/auth"
	"github.com/hostwatch/hostwatch/pkg/config"
	"github.com/hostwatch/hostwatch/pkg/database"
)

const (
	product = "HostWatch"
	version = "1.0.0"
)

func main() {
	log.Println("Iniciando HostWatch Dashboard...")

	environment := os.Getenv("HOSTWATCH_ENV")
	if environment == "" {
		environment = "development"
	}

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

	authService, err := auth.NewAuth(&cfg.Dashboard.JWT)
	if err != nil {
		log.Fatalf("fallo al inicializar servicio de autenticación: %v", err)
	}

	var acmeClient *acme.Client
	if cfg.Dashboard.ACME.Enabled {
		acmeClient, err = acme.NewClient(&cfg.Dashboard.ACME, cfg.Dashboard.Host)
		if err != nil {
			log.Printf("advertencia: fallo al inicializar cliente ACME: %v", err)
		} else if err := acmeClient.IssueCertificate(); err != nil {
			log.Printf("advertencia: fallo al emitir certificado ACME: %v", err)
		}
	}

	dashboardHandler := handlers.NewDashboardHandler(bus, db, product, version)

	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.Dashboard.CORS))

	api := r.Group("/api/v1")
	{
		api.GET("/health", dashboardHandler.HealthCheck)

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			protected.GET("/alerts", dashboardHandler.ListAlerts)
			protected.GET("/alerts/summary", dashboardHandler.AlertSummary)
			protected.GET("/report", dashboardHandler.Report)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint_not_found", "path": c.Request.URL.Path})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port)
	server := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if acmeClient != nil {
		go renewCertificatePeriodically(ctx, acmeClient)
	}

	go func() {
		if acmeClient != nil {
			server.TLSConfig = &tls.Config{
				GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
					return acmeClient.GetCertificate(hello.ServerName)
				},
			}
			log.Printf("tablero escuchando en %s (TLS)", addr)
			if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Fatalf("fallo al iniciar servidor: %v", err)
			}
			return
		}

		log.Printf("tablero escuchando en %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("fallo al iniciar servidor: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("cerrando tablero...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("cierre forzado del servidor: %v", err)
	}

	log.Println("tablero detenido")
}

// renewCertificatePeriodically checks once a day whether the dashboard's
// ACME certificate is within its renewal window, reissuing it in place so a
// long-running sentryd process never serves an expired certificate.
func renewCertificatePeriodically(ctx context.Context, client *acme.Client) {
	const checkInterval = 24 * time.Hour

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.RenewExpiring(); err != nil {
				log.Printf("advertencia: fallo al renovar certificado ACME: %v", err)
			}
		}
	}
}
