package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/catalog"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

// capturePublisher собирает опубликованные outbox-события.
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturePublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type SaleLifecycleSuite struct {
	suite.Suite

	ctx       context.Context
	store     *memory.Store
	catalog   *catalog.Service
	workflow  *sale.Workflow
	publisher *capturePublisher
	worker    *outbox.Worker
}

func (s *SaleLifecycleSuite) SetupTest() {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := log.NewEntry(logger)

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.catalog = catalog.NewService(s.store, s.store.Products(), s.store.Categories(), entry)
	s.workflow = sale.NewWorkflow(s.store, s.store.Sales(), sale.WithLogger(entry))
	s.publisher = &capturePublisher{}
	s.worker = outbox.NewWorker(s.store.Outbox(), s.publisher, outbox.WithLogger(entry), outbox.WithRetryBaseDelay(0))
}

func (s *SaleLifecycleSuite) product(name, price string, stock int) domain.Product {
	p, err := s.store.Products().Create(s.ctx, domain.Product{
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	s.Require().NoError(err)
	return p
}

func (s *SaleLifecycleSuite) stock(id int64) int {
	p, err := s.store.Products().GetByID(s.ctx, id)
	s.Require().NoError(err)
	return p.StockQuantity
}

func (s *SaleLifecycleSuite) TestCreateThenCancelRestoresStock() {
	coffee := s.product("Coffee", "2.50", 10)
	bagel := s.product("Bagel", "1.25", 4)

	created, err := s.workflow.CreateSale(s.ctx, sale.CreateRequest{
		CustomerName:  "Ann",
		PaymentMethod: domain.PaymentMethodCard,
		Lines: []sale.LineRequest{
			{ProductID: coffee.ID, Quantity: 3},
			{ProductID: bagel.ID, Quantity: 2},
		},
	})
	s.Require().NoError(err)
	s.Equal(domain.SaleStatusCompleted, created.Status)
	s.True(decimal.RequireFromString("10.00").Equal(created.TotalAmount), "total=%s", created.TotalAmount)
	s.Equal(7, s.stock(coffee.ID))
	s.Equal(2, s.stock(bagel.ID))

	cancelled, err := s.workflow.CancelSale(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(domain.SaleStatusCancelled, cancelled.Status)
	s.Equal(10, s.stock(coffee.ID))
	s.Equal(4, s.stock(bagel.ID))

	_, err = s.workflow.CancelSale(s.ctx, created.ID)
	s.Require().ErrorIs(err, domain.ErrInvalidState)
	s.Equal(10, s.stock(coffee.ID), "second cancel must not restore stock again")

	s.worker.ProcessOnce(s.ctx)
	s.Equal([]string{domain.EventTypeSaleCreated, domain.EventTypeSaleCancelled}, s.publisher.types())
}

func (s *SaleLifecycleSuite) TestInsufficientStockLeavesNoTrace() {
	coffee := s.product("Coffee", "2.50", 10)
	bagel := s.product("Bagel", "1.25", 1)

	_, err := s.workflow.CreateSale(s.ctx, sale.CreateRequest{
		Lines: []sale.LineRequest{
			{ProductID: coffee.ID, Quantity: 3},
			{ProductID: bagel.ID, Quantity: 2},
		},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(10, s.stock(coffee.ID), "earlier line must be rolled back")
	s.Equal(1, s.stock(bagel.ID))

	page, err := s.workflow.ListSales(s.ctx, 0, sale.DefaultPageSize)
	s.Require().NoError(err)
	s.Empty(page.Sales)

	s.worker.ProcessOnce(s.ctx)
	s.Empty(s.publisher.types())
}

func (s *SaleLifecycleSuite) TestCatalogStockAdjustmentFeedsSales() {
	tea := s.product("Tea", "3.00", 0)

	_, err := s.workflow.CreateSale(s.ctx, sale.CreateRequest{Lines: []sale.LineRequest{{ProductID: tea.ID, Quantity: 1}}})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	_, err = s.catalog.AdjustStock(s.ctx, tea.ID, 5)
	s.Require().NoError(err)

	created, err := s.workflow.CreateSale(s.ctx, sale.CreateRequest{Lines: []sale.LineRequest{{ProductID: tea.ID, Quantity: 5}}})
	s.Require().NoError(err)
	s.Equal(domain.PaymentMethodCash, created.PaymentMethod)
	s.Equal(0, s.stock(tea.ID))

	s.worker.ProcessOnce(s.ctx)
	s.Require().Len(s.publisher.events, 1)
	var payload map[string]any
	s.Require().NoError(json.Unmarshal(s.publisher.events[0].Payload, &payload))
	s.NotEmpty(payload)
}

func (s *SaleLifecycleSuite) TestConcurrentSalesNeverOversell() {
	item := s.product("Limited", "5.00", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.workflow.CreateSale(s.ctx, sale.CreateRequest{Lines: []sale.LineRequest{{ProductID: item.ID, Quantity: 1}}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(5, succeeded)
	s.Equal(0, s.stock(item.ID))
}

func TestSaleLifecycleSuite(t *testing.T) {
	suite.Run(t, new(SaleLifecycleSuite))
}
