package main

import (
	"flag"
	"fmt"
	"log"

	"escrow-backend/internal/app"
	"escrow-backend/internal/config"
	"escrow-backend/internal/events"
	"escrow-backend/internal/router"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	container, err := app.InitializeContainer()
	if err != nil {
		log.Fatalf("Failed to initialize service container: %v", err)
	}

	// Inbound settlement messages arrive over NATS when configured
	if container.NATSTransport != nil {
		if err := events.InitSettlementSubscription(container.NATSTransport, container.SettlementNode); err != nil {
			log.Fatalf("Failed to subscribe settlement stream: %v", err)
		}
		container.EscrowService.AddSink(events.NewNATSEventSink(container.NATSTransport))
		container.SettlementNode.AddSink(events.NewNATSEventSink(container.NATSTransport))
	}

	r := router.SetupRouter(container)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	log.Printf("🚀 Escrow backend listening on %s (eid=%d)", addr, config.AppConfig.Settlement.LocalEid)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
