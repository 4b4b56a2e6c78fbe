package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/clients"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// memDB is an in-memory stand-in for the Postgres schema. RunInTx holds a
// single lock for the whole callback, like the order row lock, and restores
// transactional state when the callback fails.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders     map[string]models.Order
	items      map[string][]*models.OrderItem
	rachmat    map[string]*models.Rachma
	files      map[string][]*models.RachmaFile
	clients    map[string]*models.Client
	earnings   map[string]decimal.Decimal
	entries    map[string]models.EarningsEntry
	deliveries map[string]map[string]time.Time
	outbox     []*models.OutboxMessage

	writes     int
	failCredit error
}

func newMemDB() *memDB {
	return &memDB{
		orders:     make(map[string]models.Order),
		items:      make(map[string][]*models.OrderItem),
		rachmat:    make(map[string]*models.Rachma),
		files:      make(map[string][]*models.RachmaFile),
		clients:    make(map[string]*models.Client),
		earnings:   make(map[string]decimal.Decimal),
		entries:    make(map[string]models.EarningsEntry),
		deliveries: make(map[string]map[string]time.Time),
	}
}

type memSnapshot struct {
	orders   map[string]models.Order
	items    map[string][]*models.OrderItem
	earnings map[string]decimal.Decimal
	entries  map[string]models.EarningsEntry
	outbox   int
	writes   int
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := memSnapshot{
		orders:   make(map[string]models.Order, len(m.orders)),
		items:    make(map[string][]*models.OrderItem, len(m.items)),
		earnings: make(map[string]decimal.Decimal, len(m.earnings)),
		entries:  make(map[string]models.EarningsEntry, len(m.entries)),
		outbox:   len(m.outbox),
		writes:   m.writes,
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	for k, v := range m.earnings {
		s.earnings[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders = s.orders
	m.items = s.items
	m.earnings = s.earnings
	m.entries = s.entries
	m.outbox = m.outbox[:s.outbox]
	m.writes = s.writes
}

func (m *memDB) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memDB) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memDB) balance(designerID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.earnings[designerID]
}

func (m *memDB) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, msg := range m.outbox {
		types = append(types, msg.EventType)
	}
	return types
}

// memOrders implements OrderStore
type memOrders struct{ db *memDB }

func (o memOrders) CreateInTx(_ context.Context, _ *sqlx.Tx, order *models.Order, items []*models.OrderItem) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	o.db.writes++
	o.db.orders[order.ID] = *order
	for _, item := range items {
		item.OrderID = order.ID
	}
	o.db.items[order.ID] = items
	return nil
}

func (o memOrders) GetByID(_ context.Context, id string) (*models.Order, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	order, ok := o.db.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &order, nil
}

func (o memOrders) LockForUpdate(ctx context.Context, _ *sqlx.Tx, id string) (*models.Order, error) {
	return o.GetByID(ctx, id)
}

func (o memOrders) GetItems(_ context.Context, orderID string) ([]*models.OrderItem, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	return o.db.items[orderID], nil
}

func (o memOrders) GetByClientID(_ context.Context, clientID string, limit, offset int) ([]*models.Order, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	var out []*models.Order
	for _, order := range o.db.orders {
		if order.ClientID == clientID {
			order := order
			out = append(out, &order)
		}
	}
	return out, nil
}

func (o memOrders) TransitionInTx(_ context.Context, _ *sqlx.Tx, order *models.Order, from models.OrderStatus) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	stored, ok := o.db.orders[order.ID]
	if !ok || stored.Status != from {
		return repository.ErrStatusConflict
	}
	o.db.writes++
	o.db.orders[order.ID] = *order
	return nil
}

// memCatalog implements CatalogStore
type memCatalog struct{ db *memDB }

func (c memCatalog) GetRachma(_ context.Context, id string) (*models.Rachma, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	r, ok := c.db.rachmat[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (c memCatalog) GetFiles(_ context.Context, rachmaID string) ([]*models.RachmaFile, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.files[rachmaID], nil
}

func (c memCatalog) GetClient(_ context.Context, id string) (*models.Client, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	client, ok := c.db.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return client, nil
}

// memLedger implements LedgerStore
type memLedger struct{ db *memDB }

func (l memLedger) InsertEntryInTx(_ context.Context, _ *sqlx.Tx, entry *models.EarningsEntry) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	if l.db.failCredit != nil {
		return false, l.db.failCredit
	}
	key := entry.OrderID + "|" + entry.DesignerID
	if _, ok := l.db.entries[key]; ok {
		return false, nil
	}
	l.db.writes++
	l.db.entries[key] = *entry
	return true, nil
}

func (l memLedger) AddEarningsInTx(_ context.Context, _ *sqlx.Tx, designerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	balance, ok := l.db.earnings[designerID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	l.db.writes++
	balance = balance.Add(amount)
	l.db.earnings[designerID] = balance
	return balance, nil
}

func (l memLedger) GetEarningsInTx(_ context.Context, _ *sqlx.Tx, designerID string) (decimal.Decimal, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	balance, ok := l.db.earnings[designerID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	return balance, nil
}

// memDeliveries implements DeliveryStore. Receipts survive rollbacks.
type memDeliveries struct{ db *memDB }

func (d memDeliveries) Record(_ context.Context, orderID, fileID string, sentAt time.Time) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.deliveries[orderID] == nil {
		d.db.deliveries[orderID] = make(map[string]time.Time)
	}
	if _, ok := d.db.deliveries[orderID][fileID]; !ok {
		d.db.deliveries[orderID][fileID] = sentAt
	}
	return nil
}

func (d memDeliveries) SentFiles(_ context.Context, orderID string) (map[string]time.Time, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	out := make(map[string]time.Time)
	for k, v := range d.db.deliveries[orderID] {
		out[k] = v
	}
	return out, nil
}

// memOutbox implements OutboxStore
type memOutbox struct{ db *memDB }

func (o memOutbox) CreateInTx(_ context.Context, _ *sqlx.Tx, message *models.OutboxMessage) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	o.db.writes++
	message.ID = int64(len(o.db.outbox) + 1)
	o.db.outbox = append(o.db.outbox, message)
	return nil
}

// memFiles implements storage.Storage over "disk:path" -> content
type memFiles struct {
	mu      sync.Mutex
	content map[string]string
	broken  map[string]bool
}

func newMemFiles() *memFiles {
	return &memFiles{content: make(map[string]string), broken: make(map[string]bool)}
}

func (f *memFiles) put(disk, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[disk+":"+path] = content
}

func (f *memFiles) Exists(_ context.Context, disk, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[disk] {
		return false, fmt.Errorf("disk %s unreachable", disk)
	}
	_, ok := f.content[disk+":"+path]
	return ok, nil
}

func (f *memFiles) Size(_ context.Context, disk, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.content[disk+":"+path]
	if !ok {
		return 0, storage.ErrFileNotFound
	}
	return int64(len(c)), nil
}

func (f *memFiles) Open(_ context.Context, disk, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.content[disk+":"+path]
	if !ok {
		return nil, storage.ErrFileNotFound
	}
	return io.NopCloser(strings.NewReader(c)), nil
}

// scriptedTransport is a bot API whose document sends fail on demand
type scriptedTransport struct {
	mu        sync.Mutex
	failAll   bool
	failPaths map[string]bool
	docCalls  map[string]int
	messages  []string
	delay     time.Duration
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{failPaths: make(map[string]bool), docCalls: make(map[string]int)}
}

func (s *scriptedTransport) SendMessage(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *scriptedTransport) SendDocument(ctx context.Context, _ int64, doc clients.Document) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return errors.NewTimeoutError("sendDocument request timed out")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docCalls[doc.Path]++
	if s.failAll || s.failPaths[doc.Path] {
		return errors.NewTemporaryError("connection reset by peer")
	}
	return nil
}

func (s *scriptedTransport) totalDocCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.docCalls {
		total += n
	}
	return total
}

func (s *scriptedTransport) setFail(path string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = fail
}

// fixture wires FulfillmentService over the in-memory collaborators
type fixture struct {
	db        *memDB
	files     *memFiles
	transport *scriptedTransport
	resolver  *AssetResolver
	ledger    *EarningsLedger
	svc       *FulfillmentService
	orders    *OrderService
}

const (
	testOrderID    = "ord-1"
	testClientID   = "cli-1"
	testDesignerID = "des-1"
	testRachmaID   = "rch-1"
	testChatID     = int64(4242)
)

func newFixture(t *testing.T, opts ...func(*FulfillmentOptions)) *fixture {
	t.Helper()

	db := newMemDB()
	files := newMemFiles()
	transport := newScriptedTransport()

	chatID := testChatID
	db.clients[testClientID] = &models.Client{ID: testClientID, Name: "Amina", TelegramChatID: &chatID}
	db.earnings[testDesignerID] = decimal.Zero
	db.rachmat[testRachmaID] = &models.Rachma{ID: testRachmaID, DesignerID: testDesignerID, Title: "Rose", Price: decimal.RequireFromString("2500.00")}
	db.files[testRachmaID] = []*models.RachmaFile{
		{ID: "fil-1", RachmaID: testRachmaID, Format: "dst", Path: "rachmat/rose.dst", Disk: "private", IsPrimary: true},
		{ID: "fil-2", RachmaID: testRachmaID, Format: "pes", Path: "rachmat/rose.pes", Disk: "private"},
	}
	files.put("private", "rachmat/rose.dst", "dst-bytes")
	files.put("private", "rachmat/rose.pes", "pes-bytes")

	rachmaID := testRachmaID
	db.orders[testOrderID] = models.Order{
		ID:            testOrderID,
		ClientID:      testClientID,
		RachmaID:      &rachmaID,
		Amount:        decimal.RequireFromString("2500.00"),
		PaymentMethod: "ccp",
		Status:        models.OrderStatusPending,
		CreatedAt:     models.GetCurrentTime(),
		UpdatedAt:     models.GetCurrentTime(),
	}

	options := FulfillmentOptions{DeliveryTimeout: 5 * time.Second, ResumePartial: true}
	for _, opt := range opts {
		opt(&options)
	}

	log := logger.NewNop()
	resolver := NewAssetResolver(memOrders{db}, memCatalog{db}, files, log)
	ledger := NewEarningsLedger(memLedger{db}, CommissionPolicy{Rate: decimal.RequireFromString("0.70"), Version: "flat-70-v1"}, log)
	delivery := clients.NewFileDelivery(transport, clients.DeliveryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, log)

	svc := NewFulfillmentService(FulfillmentDeps{
		Tx:         db,
		Orders:     memOrders{db},
		Catalog:    memCatalog{db},
		Deliveries: memDeliveries{db},
		Outbox:     memOutbox{db},
		Resolver:   resolver,
		Ledger:     ledger,
		Delivery:   delivery,
	}, options, log)

	return &fixture{
		db:        db,
		files:     files,
		transport: transport,
		resolver:  resolver,
		ledger:    ledger,
		svc:       svc,
		orders:    NewOrderService(db, memOrders{db}, memCatalog{db}, memOutbox{db}, log),
	}
}

func (f *fixture) addFile(rachmaID string, file *models.RachmaFile, content *string) {
	f.db.files[rachmaID] = append(f.db.files[rachmaID], file)
	if content != nil {
		f.files.put(file.Disk, file.Path, *content)
	}
}

func strPtr(s string) *string { return &s }
