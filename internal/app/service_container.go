package app

import (
	"fmt"
	"log"
	"sync"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/config"
	"escrow-backend/internal/db"
	"escrow-backend/internal/models"
	"escrow-backend/internal/rail"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"
	"escrow-backend/internal/verification"

	"gorm.io/gorm"
)

// ServiceContainer holds every shared dependency, wired once at startup.
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	TaskRepo       repository.TaskRepository
	EscrowRepo     repository.EscrowRepository
	SubmissionRepo repository.SubmissionRepository
	DisputeRepo    repository.DisputeRepository
	DeadLetterRepo repository.DeadLetterRepository

	// Clients
	LedgerClient *clients.LedgerClient
	JudgeClient  *clients.JudgeClient

	// Settlement rails, keyed by payment method
	Rails        map[models.PaymentMethod]rail.SettlementRail
	ContractRail *rail.ContractRail

	// Core Services
	Gate       *verification.Gate
	Settlement *services.SettlementService
	Sweeper    *services.EscrowTimeoutService

	// Push & Notification Services
	PushService   *services.WebSocketPushService
	Notifications *services.NotificationService
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer wires the container exactly once.
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{
			DB: db.DB,
		}

		container.initRepositories()

		if err := container.initRails(); err != nil {
			initErr = fmt.Errorf("failed to initialize settlement rails: %w", err)
			return
		}

		container.initCoreServices()

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() {
	log.Println("📦 Initializing Repositories...")

	c.TaskRepo = repository.NewTaskRepository(c.DB)
	c.EscrowRepo = repository.NewEscrowRepository(c.DB)
	c.SubmissionRepo = repository.NewSubmissionRepository(c.DB)
	c.DisputeRepo = repository.NewDisputeRepository(c.DB)
	c.DeadLetterRepo = repository.NewDeadLetterRepository(c.DB)

	log.Println("✅ Repositories initialized")
}

// initRails builds one SettlementRail per enabled payment method. A
// disabled rail simply never appears in the map; deposits naming it are
// rejected at request time.
func (c *ServiceContainer) initRails() error {
	log.Println("🔧 Initializing Settlement Rails...")

	c.Rails = make(map[models.PaymentMethod]rail.SettlementRail)

	if config.AppConfig.TokenRail.Enabled {
		c.LedgerClient = clients.NewLedgerClient(&config.AppConfig.TokenRail)
		tokenRail := rail.NewTokenRail(c.LedgerClient, repository.NewTokenRailEscrowRepository(c.DB), &config.AppConfig.TokenRail)
		c.Rails[models.PaymentMethodToken] = tokenRail
		log.Println("✅ Token rail enabled")
	}

	if config.AppConfig.ContractRail.Enabled {
		contractRail, err := rail.NewContractRail(&config.AppConfig.ContractRail)
		if err != nil {
			return fmt.Errorf("contract rail: %w", err)
		}
		c.ContractRail = contractRail
		c.Rails[models.PaymentMethodContract] = contractRail
		log.Println("✅ Contract rail enabled")
	}

	if len(c.Rails) == 0 {
		return fmt.Errorf("no settlement rail enabled, check token_rail/contract_rail config")
	}

	return nil
}

func (c *ServiceContainer) initCoreServices() {
	log.Println("🔧 Initializing Core Services...")

	// Verification gate over the external judge
	c.JudgeClient = clients.NewJudgeClient(&config.AppConfig.Judge)
	c.Gate = verification.NewGate(c.JudgeClient)

	// Push Service
	c.PushService = services.NewWebSocketPushService()

	// NATS notifications (degrades to a dropping sink when unreachable)
	c.Notifications = services.NewNotificationService(&config.AppConfig.NATS)

	notifier := services.NewFanoutNotifier(c.Notifications, c.PushService)

	// Settlement orchestrator
	c.Settlement = services.NewSettlementService(
		c.TaskRepo,
		c.EscrowRepo,
		c.SubmissionRepo,
		c.DisputeRepo,
		c.Rails,
		c.Gate,
		notifier,
	)

	// Timeout sweeper (started from main after the container is built)
	c.Sweeper = services.NewEscrowTimeoutService(
		c.Settlement,
		c.TaskRepo,
		c.EscrowRepo,
		c.DeadLetterRepo,
		&config.AppConfig.Sweeper,
	)

	log.Println("✅ Core Services initialized")
}

// Shutdown stops background work and releases external connections.
func (c *ServiceContainer) Shutdown() {
	log.Println("🛑 Shutting down Service Container...")

	if c.Sweeper != nil {
		c.Sweeper.Stop()
	}
	if c.Notifications != nil {
		c.Notifications.Close()
	}
	if c.ContractRail != nil {
		c.ContractRail.Close()
	}

	log.Println("✅ Service Container shut down")
}
