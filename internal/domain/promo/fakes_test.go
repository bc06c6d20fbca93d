package promo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"github.com/xenking/gameshop-promo/internal/domain/catalog"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repository keyed by id.
type memRepo struct {
	mu    sync.Mutex
	codes map[string]*Code
	order []string

	findErr error
	listErr error
}

func newMemRepo(codes ...Code) *memRepo {
	r := &memRepo{codes: make(map[string]*Code)}
	for i := range codes {
		c := codes[i]
		if c.ID == "" {
			c.ID = strings.ToLower(c.Code)
		}
		r.codes[c.ID] = &c
		r.order = append(r.order, c.ID)
	}
	return r
}

func (r *memRepo) byCode(code string) *Code {
	for _, id := range r.order {
		if c := r.codes[id]; c != nil && c.Code == code {
			return c
		}
	}
	return nil
}

func (r *memRepo) List(_ context.Context) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Code, 0, len(r.order))
	for _, id := range r.order {
		if c := r.codes[id]; c != nil {
			out = append(out, *c)
		}
	}
	slices.SortStableFunc(out, func(a, b Code) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, r.listErr
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok {
		return nil, ErrPromoNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) FindActiveByCode(_ context.Context, code string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c := r.byCode(code)
	if c == nil || !c.IsActive {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) Create(_ context.Context, c *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byCode(c.Code) != nil {
		return ErrCodeExists
	}
	cp := *c
	r.codes[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *memRepo) Update(_ context.Context, c *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[c.ID]; !ok {
		return ErrPromoNotFound
	}
	if other := r.byCode(c.Code); other != nil && other.ID != c.ID {
		return ErrCodeExists
	}
	cp := *c
	r.codes[c.ID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[id]; !ok {
		return ErrPromoNotFound
	}
	delete(r.codes, id)
	return nil
}

func (r *memRepo) ListAutoApply(_ context.Context, now time.Time) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Code
	for _, id := range r.order {
		c := r.codes[id]
		if c == nil || !c.IsActive || !c.AutoApply || c.ExpiredAt(now) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *memRepo) IncrementUsedCount(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byCode(code)
	if c == nil {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (r *memRepo) IncrementUsedCountBelowLimit(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byCode(code)
	if c == nil || (c.MaxUses != nil && c.UsedCount >= *c.MaxUses) {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (r *memRepo) usedCount(t *testing.T, code string) int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byCode(code)
	require.NotNil(t, c, "code %s", code)
	return c.UsedCount
}

// memUsages is an in-memory UsageRepository.
type memUsages struct {
	mu      sync.Mutex
	records []Usage

	countErr  error
	insertErr error
}

func (u *memUsages) InsertUsage(_ context.Context, rec *Usage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.insertErr != nil {
		return u.insertErr
	}
	u.records = append(u.records, *rec)
	return nil
}

func (u *memUsages) CountUsage(_ context.Context, code, email string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.countErr != nil {
		return 0, u.countErr
	}
	n := 0
	for _, r := range u.records {
		if r.PromoCode == code && r.CustomerEmail != nil && *r.CustomerEmail == email {
			n++
		}
	}
	return n, nil
}

// mockProducts resolves products from a fixed map.
type mockProducts struct {
	mu       sync.Mutex
	products map[string]catalog.Product
	errs     map[string]error
	calls    []string
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if err, ok := m.errs[id]; ok {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// mockOrders returns a fixed order count per identity.
type mockOrders struct {
	counts map[string]int
	err    error
}

func (m *mockOrders) CountByCustomer(_ context.Context, identity string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[identity], nil
}

// recordingPublisher captures published redemptions.
type recordingPublisher struct {
	mu    sync.Mutex
	sent  []Redemption
	err   error
	calls int
}

func (p *recordingPublisher) PublishRedemption(_ context.Context, r Redemption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, r)
	return nil
}

var errStorage = errors.New("storage unavailable")

func testCatalog() *mockProducts {
	return &mockProducts{products: map[string]catalog.Product{
		"steam-card": {ID: "steam-card", CategoryID: "gaming", IsActive: true},
		"gta5":       {ID: "gta5", CategoryID: "gaming", IsActive: true},
		"canva-pro":  {ID: "canva-pro", CategoryID: "software", IsActive: true},
		"capcut":     {ID: "capcut", CategoryID: "software", IsActive: true},
	}}
}

type fixture struct {
	repo     *memRepo
	usages   *memUsages
	products *mockProducts
	orders   *mockOrders
	events   *recordingPublisher
	svc      *Service
}

func newFixture(t *testing.T, codes ...Code) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(codes...),
		usages:   &memUsages{},
		products: testCatalog(),
		orders:   &mockOrders{counts: map[string]int{}},
		events:   &recordingPublisher{},
	}
	svc, err := NewService(f.repo, f.usages, f.products, f.orders, WithEventPublisher(f.events))
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	var ids atomic.Int64
	svc.newID = func() string {
		return fmt.Sprintf("id-%d", ids.Add(1))
	}
	f.svc = svc
	return f
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
