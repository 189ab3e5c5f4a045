package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// queueTimeout bounds how long a caller waits for the serializing goroutine.
const queueTimeout = 2 * time.Second

// State is the persisted ledger snapshot a Repository hands back on startup.
type State struct {
	Initialized bool
	Owner       uuid.UUID
	Balance     *big.Int
	Items       []Item
}

// Repository persists the catalog, the owner identity, and the accumulated
// balance. Settle must apply the stock decrement and the balance credit as one
// transaction: either both land or neither does.
type Repository interface {
	Load(ctx context.Context) (State, error)
	InitOwner(ctx context.Context, owner uuid.UUID) error
	SaveItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	Settle(ctx context.Context, item Item, balance *big.Int) error
}

// command envelopes a mutation so the goroutine can serialize writes through a channel.
type command struct {
	action   string
	caller   uuid.UUID
	item     Item
	quantity uint64
	payment  uint64
	sub      chan<- Event
	reply    chan commandResult
}

// query lets consumers read the current state without touching shared memory.
type query struct {
	action string
	id     uint64
	reply  chan queryResult
}

// commandResult forwards either the affected item or an error back to the caller.
type commandResult struct {
	item Item
	err  error
}

// queryResult carries whichever read result the query asked for.
type queryResult struct {
	item    Item
	items   []Item
	balance *big.Int
	err     error
}

// Service is the inventory ledger: a single goroutine owns the catalog and the
// owner balance, so every operation commits fully or not at all and no two
// mutations ever interleave.
type Service struct {
	repo     Repository
	owner    uuid.UUID
	items    []Item
	balance  *big.Int
	subs     []chan<- Event
	commands chan command
	queries  chan query
	quit     chan struct{}
	tracer   trace.Tracer
}

// Open loads persisted state and starts the serializing goroutine. The owner
// argument seeds the ledger the first time it runs against an empty store;
// afterwards the stored owner is authoritative and never changes.
func Open(ctx context.Context, owner uuid.UUID, repo Repository) (*Service, error) {
	state, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !state.Initialized {
		if owner == uuid.Nil {
			return nil, errors.New("owner identity is required to initialize the ledger")
		}
		if err := repo.InitOwner(ctx, owner); err != nil {
			return nil, err
		}
		state.Owner = owner
		state.Balance = new(big.Int)
	}
	if state.Balance == nil {
		state.Balance = new(big.Int)
	}

	svc := &Service{
		repo:     repo,
		owner:    state.Owner,
		items:    state.Items,
		balance:  state.Balance,
		commands: make(chan command),
		queries:  make(chan query),
		quit:     make(chan struct{}),
		tracer:   otel.Tracer("bookstore/ledger"),
	}
	go svc.loop()
	return svc, nil
}

// loop applies commands and queries sequentially so no mutexes are needed and
// no reader ever observes a half-applied settlement.
func (s *Service) loop() {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.action {
			case "add":
				item, err := s.addItem(cmd.caller, cmd.item)
				cmd.reply <- commandResult{item: item, err: err}
			case "update":
				cmd.reply <- commandResult{err: s.updateItem(cmd.caller, cmd.item)}
			case "purchase":
				item, err := s.purchase(cmd.caller, cmd.item.ID, cmd.quantity, cmd.payment)
				cmd.reply <- commandResult{item: item, err: err}
			case "subscribe":
				s.subs = append(s.subs, cmd.sub)
				cmd.reply <- commandResult{}
			default:
				cmd.reply <- commandResult{err: errors.New("unknown ledger action")}
			}
		case q := <-s.queries:
			switch q.action {
			case "get":
				if q.id >= uint64(len(s.items)) {
					q.reply <- queryResult{err: ErrNotFound}
					continue
				}
				q.reply <- queryResult{item: s.items[q.id]}
			case "list":
				q.reply <- queryResult{items: cloneItems(s.items)}
			case "balance":
				q.reply <- queryResult{balance: new(big.Int).Set(s.balance)}
			default:
				q.reply <- queryResult{err: errors.New("unknown ledger query")}
			}
		case <-s.quit:
			return
		}
	}
}

// addItem appends a catalog entry under the next sequential id. Ids start at
// zero and never repeat because the catalog only grows.
func (s *Service) addItem(caller uuid.UUID, item Item) (Item, error) {
	if caller != s.owner {
		return Item{}, ErrUnauthorized
	}
	if strings.TrimSpace(item.Title) == "" {
		return Item{}, newValidationError("title is required")
	}

	item.ID = uint64(len(s.items))
	// Persistence runs on a background context: once validation passed, a
	// caller hanging up must not leave the store and memory disagreeing.
	if err := s.repo.SaveItem(context.Background(), item); err != nil {
		return Item{}, err
	}
	s.items = append(s.items, item)
	s.emit(ItemAddedEventName, ItemAdded{ID: item.ID, Title: item.Title, Price: item.Price, Stock: item.Stock})
	return item, nil
}

// updateItem overwrites title, price, and stock wholesale. The owner check
// runs before the existence check so non-owners learn nothing about the
// catalog from the error kind.
func (s *Service) updateItem(caller uuid.UUID, item Item) error {
	if caller != s.owner {
		return ErrUnauthorized
	}
	if item.ID >= uint64(len(s.items)) {
		return ErrNotFound
	}
	if strings.TrimSpace(item.Title) == "" {
		return newValidationError("title is required")
	}
	if err := s.repo.UpdateItem(context.Background(), item); err != nil {
		return err
	}
	s.items[item.ID] = item
	return nil
}

// purchase settles the sale of exactly one unit. The quantity argument acts
// only as a stock floor the buyer insists on; it neither multiplies the price
// nor the decrement. That matches the reference behavior this ledger tracks.
func (s *Service) purchase(buyer uuid.UUID, id, quantity, payment uint64) (Item, error) {
	if id >= uint64(len(s.items)) {
		return Item{}, ErrNotFound
	}
	item := s.items[id]
	if item.Stock == 0 {
		return Item{}, ErrOutOfStock
	}
	if quantity > item.Stock {
		return Item{}, ErrOutOfStock
	}
	if payment < item.Price {
		return Item{}, ErrInsufficientPayment
	}

	updated := item
	updated.Stock--
	credited := new(big.Int).Add(s.balance, new(big.Int).SetUint64(payment))
	if err := s.repo.Settle(context.Background(), updated, credited); err != nil {
		// The transaction rolled back, so neither memory nor the event
		// stream may move.
		return Item{}, err
	}
	s.items[id] = updated
	s.balance = credited
	s.emit(PurchaseSettledEventName, PurchaseSettled{ID: id, Buyer: buyer, Payment: payment})
	return updated, nil
}

// emit delivers a committed event to every subscriber. Delivery never blocks
// the ledger: a subscriber that cannot keep up misses events instead of
// stalling settlement.
func (s *Service) emit(name EventName, payload any) {
	ev := Event{Name: name, Payload: payload}
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// AddItem registers a new catalog entry and returns it with its assigned id.
// Only the owner may call it.
func (s *Service) AddItem(ctx context.Context, caller uuid.UUID, title string, price, stock uint64) (Item, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.add_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.caller", caller.String()),
		attribute.String("item.title", title),
	)

	reply := make(chan commandResult)
	cmd := command{action: "add", caller: caller, item: Item{Title: title, Price: price, Stock: stock}, reply: reply}

	item, err := s.send(ctx, cmd, reply)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Item{}, err
	}
	span.SetAttributes(attribute.Int64("item.id", int64(item.ID)))
	span.SetStatus(codes.Ok, "item added")
	return item, nil
}

// UpdateItem overwrites an existing item wholesale. Only the owner may call it.
func (s *Service) UpdateItem(ctx context.Context, caller uuid.UUID, id uint64, title string, price, stock uint64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.update_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.caller", caller.String()),
		attribute.Int64("item.id", int64(id)),
	)

	reply := make(chan commandResult)
	cmd := command{action: "update", caller: caller, item: Item{ID: id, Title: title, Price: price, Stock: stock}, reply: reply}

	if _, err := s.send(ctx, cmd, reply); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "item updated")
	return nil
}

// Purchase validates the payment, decrements stock by one unit, credits the
// payment to the owner balance, and reports the updated item. Any caller may
// purchase.
func (s *Service) Purchase(ctx context.Context, buyer uuid.UUID, id, quantity, payment uint64) (Item, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.purchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.buyer", buyer.String()),
		attribute.Int64("item.id", int64(id)),
	)

	reply := make(chan commandResult)
	cmd := command{action: "purchase", caller: buyer, item: Item{ID: id}, quantity: quantity, payment: payment, reply: reply}

	item, err := s.send(ctx, cmd, reply)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Item{}, err
	}
	span.SetAttributes(attribute.Int64("item.stock", int64(item.Stock)))
	span.SetStatus(codes.Ok, "purchase settled")
	return item, nil
}

// Subscribe registers an event channel. Events arrive in commit order; the
// channel should be buffered because slow receivers are skipped.
func (s *Service) Subscribe(ctx context.Context, ch chan<- Event) error {
	reply := make(chan commandResult)
	_, err := s.send(ctx, command{action: "subscribe", sub: ch, reply: reply}, reply)
	return err
}

// send pushes a command into the loop while honoring the caller's context and
// the queue-busy timeout, then waits for the loop's verdict the same way.
func (s *Service) send(ctx context.Context, cmd command, reply chan commandResult) (Item, error) {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-time.After(queueTimeout):
		return Item{}, errors.New("ledger queue is busy")
	}

	select {
	case res := <-reply:
		return res.item, res.err
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-time.After(queueTimeout):
		return Item{}, errors.New("ledger operation timed out")
	}
}

// GetItem returns the catalog entry for id.
func (s *Service) GetItem(ctx context.Context, id uint64) (Item, error) {
	res, err := s.ask(ctx, query{action: "get", id: id})
	if err != nil {
		return Item{}, err
	}
	return res.item, res.err
}

// ListItems returns the whole catalog in id order.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	res, err := s.ask(ctx, query{action: "list"})
	if err != nil {
		return nil, err
	}
	return res.items, res.err
}

// Balance returns a copy of the owner's accumulated balance.
func (s *Service) Balance(ctx context.Context) (*big.Int, error) {
	res, err := s.ask(ctx, query{action: "balance"})
	if err != nil {
		return nil, err
	}
	return res.balance, res.err
}

// Owner returns the identity fixed at initialization. It never changes, so no
// round trip through the loop is needed.
func (s *Service) Owner() uuid.UUID {
	return s.owner
}

// ask mirrors send for the read-only query channel.
func (s *Service) ask(ctx context.Context, q query) (queryResult, error) {
	q.reply = make(chan queryResult)

	select {
	case s.queries <- q:
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	case <-time.After(queueTimeout):
		return queryResult{}, errors.New("ledger queue is busy")
	}

	select {
	case res := <-q.reply:
		return res, nil
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	case <-time.After(queueTimeout):
		return queryResult{}, errors.New("ledger query timed out")
	}
}

// Close stops the serializing goroutine during shutdown.
func (s *Service) Close() {
	close(s.quit)
}

// cloneItems duplicates the slice so callers cannot mutate internal state.
func cloneItems(src []Item) []Item {
	out := make([]Item, len(src))
	copy(out, src)
	return out
}
