package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/config"
	"escrow-backend/internal/db"
	"escrow-backend/internal/interfaces"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"
	"escrow-backend/internal/types"
	"escrow-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// ServiceContainer holds every wired component of the node
type ServiceContainer struct {
	// Database (nil when running on the in-memory driver)
	DB *gorm.DB

	// Repositories
	AccountRepo    repository.AccountRepository
	SettlementRepo repository.SettlementRepository
	EventRepo      repository.EventRepository

	// Clients
	Vault     interfaces.Vault
	Token     interfaces.AssetTransferor
	Transport interfaces.Transport
	// NATSTransport is set only when the NATS transport is active
	NATSTransport *clients.NATSTransport

	// Core Services
	EscrowService        *services.EscrowService
	SettlementNode       *services.SettlementService
	WebSocketPushService *services.WebSocketPushService
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer wires repositories, clients and services from AppConfig
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{}

		if err := container.initRepositories(); err != nil {
			initErr = fmt.Errorf("failed to initialize repositories: %w", err)
			return
		}

		if err := container.initClients(); err != nil {
			initErr = fmt.Errorf("failed to initialize clients: %w", err)
			return
		}

		if err := container.initCoreServices(); err != nil {
			initErr = fmt.Errorf("failed to initialize core services: %w", err)
			return
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	if config.AppConfig.Database.Driver == "memory" {
		c.AccountRepo = repository.NewMemoryAccountRepository()
		c.SettlementRepo = repository.NewMemorySettlementRepository()
		c.EventRepo = repository.NewMemoryEventRepository()
		log.Println("✅ Repositories initialized (in-memory driver)")
		return nil
	}

	db.InitDB()
	c.DB = db.DB
	c.AccountRepo = repository.NewAccountRepository(c.DB)
	c.SettlementRepo = repository.NewSettlementRepository(c.DB)
	c.EventRepo = repository.NewEventRepository(c.DB)

	log.Println("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initClients() error {
	log.Println("🔧 Initializing Clients...")
	cfg := config.AppConfig

	vaultAddress, err := utils.RequireLiveAddress(cfg.Vault.Address)
	if err != nil {
		return fmt.Errorf("invalid vault address %q: %w", cfg.Vault.Address, err)
	}

	switch cfg.Vault.Provider {
	case "http":
		c.Vault = clients.NewHTTPVaultClient(cfg.Vault.URL, vaultAddress, time.Duration(cfg.Vault.Timeout)*time.Second)
	case "static":
		ratio, err := utils.ParseAmount(cfg.Vault.StaticRatio)
		if err != nil {
			return fmt.Errorf("invalid vault static_ratio %q: %w", cfg.Vault.StaticRatio, err)
		}
		c.Vault = clients.NewStaticVault(ratio, vaultAddress)
	default:
		return fmt.Errorf("unknown vault provider %q", cfg.Vault.Provider)
	}

	switch cfg.Token.Provider {
	case "erc20":
		tokenAddress, err := utils.RequireLiveAddress(cfg.Token.Address)
		if err != nil {
			return fmt.Errorf("invalid token address %q: %w", cfg.Token.Address, err)
		}
		token, err := clients.NewERC20TokenClient(cfg.Token.RPCURL, tokenAddress, cfg.Token.OperatorKey)
		if err != nil {
			return fmt.Errorf("failed to create ERC20 token client: %w", err)
		}
		c.Token = token
	case "ledger":
		custody := common.HexToAddress(cfg.Token.Address)
		c.Token = clients.NewLedgerToken(custody)
	default:
		return fmt.Errorf("unknown token provider %q", cfg.Token.Provider)
	}

	feePerByte, err := utils.ParseAmount(cfg.Settlement.FeePerByte)
	if err != nil {
		return fmt.Errorf("invalid fee_per_byte %q: %w", cfg.Settlement.FeePerByte, err)
	}

	if cfg.NATS.URL != "" {
		transport, err := clients.NewNATSTransport(cfg.NATS.URL, cfg.NATS.StreamName, feePerByte)
		if err != nil {
			return fmt.Errorf("failed to connect NATS transport: %w", err)
		}
		c.NATSTransport = transport
		c.Transport = transport
		log.Printf("✅ NATS transport connected: %s", cfg.NATS.URL)
	} else {
		c.Transport = clients.NewLocalEndpoint(feePerByte)
		log.Println("✅ Local in-process transport active (no NATS URL configured)")
	}

	return nil
}

func (c *ServiceContainer) initCoreServices() error {
	log.Println("🔧 Initializing Core Services...")
	cfg := config.AppConfig

	c.WebSocketPushService = services.NewWebSocketPushService()

	c.EscrowService = services.NewEscrowService(c.AccountRepo, c.EventRepo)
	if err := c.EscrowService.Initialize(c.Token, c.Vault); err != nil {
		return fmt.Errorf("failed to initialize escrow service: %w", err)
	}
	c.EscrowService.AddSink(c.WebSocketPushService)

	identity, err := utils.RequireLiveAddress(cfg.Settlement.Identity)
	if err != nil {
		return fmt.Errorf("invalid settlement identity %q: %w", cfg.Settlement.Identity, err)
	}

	c.SettlementNode = services.NewSettlementService(
		cfg.Settlement.LocalEid,
		identity,
		c.Transport,
		c.Token,
		c.SettlementRepo,
		c.EventRepo,
	)
	c.SettlementNode.AddSink(c.WebSocketPushService)

	for eid, peerHex := range cfg.Settlement.Peers {
		peer, err := utils.RequireLiveAddress(peerHex)
		if err != nil {
			return fmt.Errorf("invalid peer %q for eid %d: %w", peerHex, eid, err)
		}
		if err := c.SettlementNode.SetPeer(eid, peer); err != nil {
			return fmt.Errorf("failed to register peer for eid %d: %w", eid, err)
		}
		log.Printf("✅ Peer registered: eid=%d identity=%s", eid, peer.Hex())
	}

	// Local transport delivers synchronously, wire our own receiver so a
	// single node can loop messages back to itself in dev mode.
	if local, ok := c.Transport.(*clients.LocalEndpoint); ok {
		node := c.SettlementNode
		local.RegisterReceiver(cfg.Settlement.LocalEid, func(msg *types.Message) error {
			return node.Receive(context.Background(), msg)
		})
	}

	log.Println("✅ Core services initialized")
	return nil
}
