package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/storage"
)

type fakeSubmitter struct {
	quoteErr error
	orderErr error
	quotes   []QuoteRequest
	orders   []OrderRequest
}

func (f *fakeSubmitter) RequestQuote(_ context.Context, req QuoteRequest) (QuoteResponse, error) {
	if f.quoteErr != nil {
		return QuoteResponse{}, f.quoteErr
	}
	f.quotes = append(f.quotes, req)
	return QuoteResponse{QuoteID: "quote-1", Status: "pending", RequestedAt: testNow}, nil
}

func (f *fakeSubmitter) CreateOrder(_ context.Context, req OrderRequest) (OrderConfirmation, error) {
	if f.orderErr != nil {
		return OrderConfirmation{}, f.orderErr
	}
	f.orders = append(f.orders, req)
	return OrderConfirmation{OrderID: "order-1", Status: "pending", CreatedAt: testNow}, nil
}

func newTestStore(t *testing.T, st storage.Store, sid string, sub Submitter) *Store {
	t.Helper()
	s := NewStore(st, sid, sub, zap.NewNop())
	s.now = func() time.Time { return testNow }
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestStoreCreatesAndRestoresCart(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()

	first := newTestStore(t, st, sid, &fakeSubmitter{})
	c := first.State().Cart
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)

	_, err := first.AddItem(ctx, testProduct("p1"), 1000, Specifications{Material: "PE"})
	require.NoError(t, err)

	second := newTestStore(t, st, sid, &fakeSubmitter{})
	restored := second.State().Cart
	require.NotNil(t, restored)
	assert.Equal(t, c.ID, restored.ID)
	require.Len(t, restored.Items, 1)
	assert.Equal(t, testNow, restored.Items[0].AddedAt.UTC(), "dates are rehydrated")
	assertDecimal(t, "84000", restored.Total, "restored total")
}

func TestStoreReplacesUnreadableCart(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()

	_, err := st.Put(ctx, sid, storage.KeyCart, []byte("not json"), storage.AnyVersion)
	require.NoError(t, err)

	s := newTestStore(t, st, sid, &fakeSubmitter{})
	require.NotNil(t, s.State().Cart)

	entry, err := st.Get(ctx, sid, storage.KeyCart)
	require.NoError(t, err)
	var c Cart
	require.NoError(t, json.Unmarshal(entry.Value, &c))
	assert.Equal(t, StatusDraft, c.Status)
}

func TestStoreNotifiesItemChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), &fakeSubmitter{})

	var seen [][]Item
	s.Subscribe(func(items []Item) { seen = append(seen, items) })

	state, err := s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)
	id := state.Cart.Items[0].ID

	_, err = s.UpdateQuantity(ctx, id, 1000)
	require.NoError(t, err)
	_, err = s.UpdateQuantity(ctx, id, 0)
	require.NoError(t, err)

	require.Len(t, seen, 2, "an unchanged quantity does not notify")
	assert.Len(t, seen[0], 1)
	assert.Empty(t, seen[1])
}

func TestStoreConflictReloads(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()

	tab1 := newTestStore(t, st, sid, &fakeSubmitter{})
	tab2 := newTestStore(t, st, sid, &fakeSubmitter{})

	_, err := tab2.AddItem(ctx, testProduct("p2"), 500, Specifications{})
	require.NoError(t, err)

	state, err := tab1.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.ErrorIs(t, err, storage.ErrVersionConflict)
	assert.Equal(t, msgConflict, state.Error)
	require.Len(t, state.Cart.Items, 1)
	assert.Equal(t, "p2", state.Cart.Items[0].ProductID, "the other writer's cart wins")

	_, err = tab1.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err, "the reloaded version can be written")
	assert.Len(t, tab1.State().Cart.Items, 2)
}

func TestStoreRequestQuote(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), sub)

	_, err := s.RequestQuote(ctx, Contact{ContactName: "山田 太郎", Email: "taro@example.jp"})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)

	resp, err := s.RequestQuote(ctx, Contact{ContactName: "山田 太郎", Email: "taro@example.jp"})
	require.NoError(t, err)
	assert.Equal(t, "quote-1", resp.QuoteID)

	require.Len(t, sub.quotes, 1)
	assert.Equal(t, s.State().Cart.ID, sub.quotes[0].CartID)
	assert.Len(t, sub.quotes[0].Items, 1)

	state := s.State()
	assert.Equal(t, StatusQuoteRequested, state.Cart.Status)
	assert.False(t, state.IsLoading)
	assert.Empty(t, state.Error)
}

func TestStoreRequestQuoteFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), &fakeSubmitter{quoteErr: errors.New("connection refused")})

	_, err := s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)

	_, err = s.RequestQuote(ctx, Contact{ContactName: "山田 太郎"})
	require.Error(t, err)

	state := s.State()
	assert.Equal(t, msgQuoteFailed, state.Error)
	assert.False(t, state.IsLoading)
	assert.Equal(t, StatusDraft, state.Cart.Status)
	assert.Len(t, state.Cart.Items, 1)
}

func TestStoreConvertToOrderClearsCart(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), sub)

	_, err := s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)

	order, err := s.ConvertToOrder(ctx, "quote-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.OrderID)

	require.Len(t, sub.orders, 1)
	assert.Equal(t, "quote-1", sub.orders[0].QuoteID)
	assert.Empty(t, s.State().Cart.Items)
}

func TestStoreConvertToOrderClearsCartChangedByAnotherTab(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()
	sub := &fakeSubmitter{}

	tab1 := newTestStore(t, st, sid, sub)
	_, err := tab1.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)

	tab2 := newTestStore(t, st, sid, sub)
	items := tab2.State().Cart.Items
	require.Len(t, items, 1)
	_, err = tab2.UpdateQuantity(ctx, items[0].ID, 2000)
	require.NoError(t, err)

	var notified [][]Item
	tab1.Subscribe(func(items []Item) { notified = append(notified, items) })

	order, err := tab1.ConvertToOrder(ctx, "quote-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.OrderID)
	assert.Empty(t, tab1.State().Cart.Items)
	assert.Empty(t, tab1.State().Error)
	require.Len(t, notified, 1)
	assert.Empty(t, notified[0])

	reloaded := newTestStore(t, st, sid, sub)
	assert.Empty(t, reloaded.State().Cart.Items, "the stored cart is cleared")

	_, err = tab1.ConvertToOrder(ctx, "quote-1")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Len(t, sub.orders, 1, "the cart is ordered once")
}

func TestStoreNotifiesInDispatchOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), &fakeSubmitter{})

	state, err := s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)
	id := state.Cart.Items[0].ID

	var (
		mu   sync.Mutex
		last int
	)
	release := make(chan struct{})
	var once sync.Once
	s.Subscribe(func(items []Item) {
		if len(items) == 1 && items[0].Quantity == 2000 {
			once.Do(func() { <-release })
		}
		mu.Lock()
		defer mu.Unlock()
		last = items[0].Quantity
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.UpdateQuantity(ctx, id, 2000)
	}()
	require.Eventually(t, func() bool { return s.State().Cart.Items[0].Quantity == 2000 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.UpdateQuantity(ctx, id, 3000)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 3000, s.State().Cart.Items[0].Quantity)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3000, last, "the last notification carries the latest cart")
}

func TestStoreConvertToOrderFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), &fakeSubmitter{orderErr: errors.New("timeout")})

	_, err := s.AddItem(ctx, testProduct("p1"), 1000, Specifications{})
	require.NoError(t, err)

	_, err = s.ConvertToOrder(ctx, "")
	require.Error(t, err)
	assert.Equal(t, msgOrderFailed, s.State().Error)
	assert.Len(t, s.State().Cart.Items, 1)
}

func TestStoreAddItemRejectsNonPositiveQuantity(t *testing.T) {
	s := newTestStore(t, storage.NewMemory(), uuid.NewString(), &fakeSubmitter{})

	_, err := s.AddItem(context.Background(), testProduct("p1"), 0, Specifications{})
	require.Error(t, err)
	assert.Empty(t, s.State().Cart.Items)
}
