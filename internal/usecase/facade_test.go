package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/aq2208/group-order-api/internal/entity"
)

var testNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

// memSessionRepo is an in-memory SessionRepo with real compare-and-swap
// semantics, so concurrency tests exercise the same conflict paths as MySQL.
type memSessionRepo struct {
	mu   sync.Mutex
	docs map[string][]byte

	inserts     int
	insertErrs  []error // popped per Insert call; nil means success
	forcedFails int     // Save calls that report a conflict before checking
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{docs: map[string][]byte{}}
}

func (r *memSessionRepo) put(s *domain.GroupOrderSession) {
	doc, _ := json.Marshal(s)
	r.docs[s.SessionID] = doc
}

func (r *memSessionRepo) get(sessionID string) (*domain.GroupOrderSession, bool) {
	doc, ok := r.docs[sessionID]
	if !ok {
		return nil, false
	}
	var s domain.GroupOrderSession
	_ = json.Unmarshal(doc, &s)
	return &s, true
}

func (r *memSessionRepo) Insert(ctx context.Context, s *domain.GroupOrderSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if len(r.insertErrs) > 0 {
		err := r.insertErrs[0]
		r.insertErrs = r.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	r.put(s)
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, sessionID string) (*domain.GroupOrderSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *memSessionRepo) GetByInviteCode(ctx context.Context, code string) (*domain.GroupOrderSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fallback *domain.GroupOrderSession
	for id := range r.docs {
		s, _ := r.get(id)
		if s.InviteCode != code {
			continue
		}
		if s.Status == domain.StatusActive {
			return s, nil
		}
		fallback = s
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrNotFound
}

func (r *memSessionRepo) Save(ctx context.Context, s *domain.GroupOrderSession, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedFails > 0 {
		r.forcedFails--
		return ErrVersionConflict
	}
	cur, ok := r.get(s.SessionID)
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	r.put(s)
	return nil
}

type memCodeCache struct {
	mu    sync.Mutex
	codes map[string]string
}

func newMemCodeCache() *memCodeCache { return &memCodeCache{codes: map[string]string{}} }

func (c *memCodeCache) SetCode(ctx context.Context, code, sessionID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code] = sessionID
	return nil
}

func (c *memCodeCache) GetCode(ctx context.Context, code string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.codes[code]
	return id, ok, nil
}

func (c *memCodeCache) DelCode(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.codes, code)
	return nil
}

type memIdemStore struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{locks: map[string]bool{}, values: map[string]string{}}
}

func (s *memIdemStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scope + "/" + key
	if s.locks[k] {
		return false, nil
	}
	s.locks[k] = true
	return true, nil
}

func (s *memIdemStore) Remember(ctx context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[scope+"/"+key] = value
	return nil
}

func (s *memIdemStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[scope+"/"+key]
	return v, ok, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []SessionEventMsg
}

func (p *capturePublisher) Publish(ctx context.Context, evt SessionEventMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) byType(t string) []SessionEventMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SessionEventMsg
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memOutbox struct {
	mu         sync.Mutex
	staged     [][]byte
	insertErr  error
}

func (o *memOutbox) InsertEvent(ctx context.Context, channel string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.insertErr != nil {
		return o.insertErr
	}
	o.staged = append(o.staged, payload)
	return nil
}

func (o *memOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxEvent, error) {
	return nil, nil
}
func (o *memOutbox) MarkSent(ctx context.Context, id int64) error                         { return nil }
func (o *memOutbox) MarkFailed(ctx context.Context, id int64, retryIn time.Duration) error { return nil }

type fixture struct {
	repo   *memSessionRepo
	codes  *memCodeCache
	idem   *memIdemStore
	events *capturePublisher
	outbox *memOutbox
	facade *GroupOrderFacade
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		repo:   newMemSessionRepo(),
		codes:  newMemCodeCache(),
		idem:   newMemIdemStore(),
		events: &capturePublisher{},
		outbox: &memOutbox{},
	}
	fx.facade = NewGroupOrderFacade(fx.repo, fx.codes, fx.idem, fx.events, fx.outbox, FacadeConfig{
		SessionTTL:      2 * time.Hour,
		MaxParticipants: 8,
		SaveRetries:     3,
		CodeRetries:     5,
	})
	fx.facade.now = func() time.Time { return testNow }
	return fx
}

func (fx *fixture) create(t *testing.T, in CreateSessionInput) *domain.GroupOrderSession {
	t.Helper()
	if in.RestaurantID == "" {
		in.RestaurantID = "rest-1"
	}
	s, err := fx.facade.CreateSession(context.Background(), in)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (fx *fixture) join(t *testing.T, code, name, userID string) JoinSessionOutput {
	t.Helper()
	out, err := fx.facade.JoinSession(context.Background(), JoinSessionInput{
		InviteCode: code, Name: name, UserID: userID,
	})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return out
}

func TestCreateSessionDefaults(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{CreatedBy: "user-1"})

	if s.InviteCode == "" || len(s.InviteCode) != domain.InviteCodeLength {
		t.Errorf("invite code = %q", s.InviteCode)
	}
	if want := testNow.Add(2 * time.Hour); !s.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", s.ExpiresAt, want)
	}
	if s.PaymentStructure != domain.StructureEqualSplit {
		t.Errorf("default structure = %s, want equal_split", s.PaymentStructure)
	}
	if id, ok, _ := fx.codes.GetCode(context.Background(), s.InviteCode); !ok || id != s.SessionID {
		t.Error("invite code not cached")
	}
	if got := fx.events.byType(EventSessionCreated); len(got) != 1 {
		t.Errorf("created events = %d, want 1", len(got))
	}
}

func TestCreateSessionMissingRestaurant(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.facade.CreateSession(context.Background(), CreateSessionInput{})
	if !errors.Is(err, ErrMissingRestaurant) {
		t.Fatalf("error = %v, want ErrMissingRestaurant", err)
	}
}

func TestCreateSessionRegeneratesDuplicateCode(t *testing.T) {
	fx := newFixture(t)
	fx.repo.insertErrs = []error{ErrDuplicateCode, ErrDuplicateCode, nil}

	s := fx.create(t, CreateSessionInput{})
	if fx.repo.inserts != 3 {
		t.Errorf("inserts = %d, want 3 (two collisions then success)", fx.repo.inserts)
	}
	if s.InviteCode == "" {
		t.Error("final session has no invite code")
	}
}

func TestCreateSessionCodeRetriesExhausted(t *testing.T) {
	fx := newFixture(t)
	fx.repo.insertErrs = []error{
		ErrDuplicateCode, ErrDuplicateCode, ErrDuplicateCode, ErrDuplicateCode, ErrDuplicateCode,
	}
	_, err := fx.facade.CreateSession(context.Background(), CreateSessionInput{RestaurantID: "rest-1"})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("error = %v, want ErrDuplicateCode after exhausted retries", err)
	}
	if fx.repo.inserts != 5 {
		t.Errorf("inserts = %d, want 5", fx.repo.inserts)
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	fx := newFixture(t)
	in := CreateSessionInput{RestaurantID: "rest-1", CreatedBy: "user-1", IdempotencyKey: "req-42"}

	first := fx.create(t, in)
	second := fx.create(t, in)

	if first.SessionID != second.SessionID {
		t.Errorf("replayed create returned a different session: %s vs %s", first.SessionID, second.SessionID)
	}
	if fx.repo.inserts != 1 {
		t.Errorf("inserts = %d, want 1", fx.repo.inserts)
	}
}

func TestJoinReturningUserKeepsSeat(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{MaxParticipants: 2})

	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	again := fx.join(t, s.InviteCode, "Alice", "user-a")
	if a.Participant.ParticipantID != again.Participant.ParticipantID {
		t.Error("returning user got a second participant slot")
	}
	fx.join(t, s.InviteCode, "Bob", "user-b")

	if got := len(again.Session.Participants); got > 2 {
		// Reload to see the final roster.
		final, _ := fx.repo.GetByID(context.Background(), s.SessionID)
		t.Errorf("roster has %d participants, want 2: %+v", got, final.Participants)
	}
}

func TestMutateRetriesOnVersionConflict(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	fx.repo.forcedFails = 2 // two conflicts, third attempt wins

	out := fx.join(t, s.InviteCode, "Alice", "user-a")
	if out.Participant.Name != "Alice" {
		t.Fatalf("join did not land after retries")
	}
}

func TestMutateExhaustsRetries(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	fx.repo.forcedFails = 3 // equals SaveRetries

	_, err := fx.facade.JoinSession(context.Background(), JoinSessionInput{
		InviteCode: s.InviteCode, Name: "Alice", UserID: "user-a",
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("error = %v, want ErrConcurrentModification", err)
	}
}

// Two concurrent additions against the same session must both land, with the
// stored subtotal equal to the sum of both, regardless of interleaving.
func TestConcurrentAddItemsBothLand(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	b := fx.join(t, s.InviteCode, "Bob", "user-b")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	add := func(i int, participantID string, priceCents int64) {
		defer wg.Done()
		_, errs[i] = fx.facade.AddItems(context.Background(), AddItemsInput{
			SessionID:     s.SessionID,
			ParticipantID: participantID,
			Items: []domain.NewItem{
				{MenuItemID: "menu-1", Name: "Dish", PriceCents: priceCents, Quantity: 1},
			},
		})
	}
	wg.Add(2)
	go add(0, a.Participant.ParticipantID, 700)
	go add(1, b.Participant.ParticipantID, 300)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("addItems[%d]: %v", i, err)
		}
	}
	final, err := fx.repo.GetByID(context.Background(), s.SessionID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(final.Items) != 2 {
		t.Fatalf("ledger has %d items, want 2", len(final.Items))
	}
	if final.Totals.SubtotalCents != 1000 {
		t.Errorf("subtotal = %d, want 1000", final.Totals.SubtotalCents)
	}
}

func TestGetSessionPersistsLazyExpiry(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	// Rewind the deadline behind the fixed clock.
	stored, _ := fx.repo.GetByID(context.Background(), s.SessionID)
	stored.ExpiresAt = testNow.Add(-time.Minute)
	fx.repo.mu.Lock()
	fx.repo.put(stored)
	fx.repo.mu.Unlock()

	got, err := fx.facade.GetSession(context.Background(), s.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	reloaded, _ := fx.repo.GetByID(context.Background(), s.SessionID)
	if reloaded.Status != domain.StatusExpired {
		t.Error("expiry was not persisted")
	}
	if _, ok, _ := fx.codes.GetCode(context.Background(), s.InviteCode); ok {
		t.Error("invite code still cached after expiry")
	}
	if got := fx.events.byType(EventSessionExpired); len(got) != 1 {
		t.Errorf("expired events = %d, want 1", len(got))
	}
}

func TestValidateJoinCode(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})

	out, err := fx.facade.ValidateJoinCode(context.Background(), s.InviteCode)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.IsValid || out.Session == nil || out.Session.SessionID != s.SessionID {
		t.Fatalf("valid code rejected: %+v", out)
	}

	if _, err := fx.facade.ValidateJoinCode(context.Background(), "NOSUCH"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown code error = %v, want ErrNotFound", err)
	}

	if _, err := fx.facade.CancelSession(context.Background(), s.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	out, err = fx.facade.ValidateJoinCode(context.Background(), s.InviteCode)
	if err != nil {
		t.Fatalf("validate after cancel: %v", err)
	}
	if out.IsValid {
		t.Error("cancelled session's code still validates")
	}
}

func TestValidateJoinCodeCacheFastPath(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	// Poison the by-code index path: only the cache knows this alias.
	_ = fx.codes.SetCode(context.Background(), "ALIAS1", s.SessionID, time.Hour)

	out, err := fx.facade.ValidateJoinCode(context.Background(), "ALIAS1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.IsValid {
		t.Error("cache hit did not resolve the session")
	}
}

func TestSubmitSessionStagesOutboxEvent(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	if _, err := fx.facade.AddItems(context.Background(), AddItemsInput{
		SessionID:     s.SessionID,
		ParticipantID: a.Participant.ParticipantID,
		Items:         []domain.NewItem{{MenuItemID: "m1", Name: "Pizza", PriceCents: 1500, Quantity: 1}},
	}); err != nil {
		t.Fatalf("add items: %v", err)
	}

	out, err := fx.facade.SubmitSession(context.Background(), SubmitSessionInput{
		SessionCode: s.InviteCode, SubmittedBy: "user-a",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Session.Status != domain.StatusSubmitted {
		t.Errorf("status = %s, want submitted", out.Session.Status)
	}
	if len(out.Breakdown) != 1 || out.Breakdown[0].AmountCents != 1500 {
		t.Errorf("breakdown = %+v, want Alice owing 1500", out.Breakdown)
	}

	fx.outbox.mu.Lock()
	staged := len(fx.outbox.staged)
	fx.outbox.mu.Unlock()
	if staged != 1 {
		t.Errorf("outbox staged %d events, want 1", staged)
	}
	if got := fx.events.byType(EventSessionSubmitted); len(got) != 0 {
		t.Errorf("submitted event published directly despite healthy outbox")
	}
	if _, ok, _ := fx.codes.GetCode(context.Background(), s.InviteCode); ok {
		t.Error("invite code still cached after submit")
	}
}

func TestSubmitSessionDegradesWhenOutboxFails(t *testing.T) {
	fx := newFixture(t)
	fx.outbox.insertErr = errors.New("db down")
	s := fx.create(t, CreateSessionInput{})
	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	fx.facade.AddItems(context.Background(), AddItemsInput{
		SessionID:     s.SessionID,
		ParticipantID: a.Participant.ParticipantID,
		Items:         []domain.NewItem{{MenuItemID: "m1", Name: "Pizza", PriceCents: 1000, Quantity: 1}},
	})

	if _, err := fx.facade.SubmitSession(context.Background(), SubmitSessionInput{SessionCode: s.InviteCode}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := fx.events.byType(EventSessionSubmitted); len(got) != 1 {
		t.Errorf("direct submitted events = %d, want 1 fallback publish", len(got))
	}
}

func TestApplyPaymentStatusOnSubmittedSession(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	fx.facade.AddItems(context.Background(), AddItemsInput{
		SessionID:     s.SessionID,
		ParticipantID: a.Participant.ParticipantID,
		Items:         []domain.NewItem{{MenuItemID: "m1", Name: "Pizza", PriceCents: 1000, Quantity: 1}},
	})
	if _, err := fx.facade.SubmitSession(context.Background(), SubmitSessionInput{SessionCode: s.InviteCode}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := fx.facade.ApplyPaymentStatus(context.Background(), PaymentStatusMsg{
		SessionID:     s.SessionID,
		ParticipantID: a.Participant.ParticipantID,
		Status:        "SUCCESS",
	})
	if err != nil {
		t.Fatalf("apply payment status: %v", err)
	}
	final, _ := fx.repo.GetByID(context.Background(), s.SessionID)
	if final.PaymentSplit.CompletedPayments != 1 {
		t.Errorf("completedPayments = %d, want 1", final.PaymentSplit.CompletedPayments)
	}
}

func TestUpdateSpendingLimitsBulk(t *testing.T) {
	fx := newFixture(t)
	s := fx.create(t, CreateSessionInput{})
	a := fx.join(t, s.InviteCode, "Alice", "user-a")
	b := fx.join(t, s.InviteCode, "Bob", "user-b")

	required := true
	updated, err := fx.facade.UpdateSpendingLimits(context.Background(), UpdateSpendingLimitsInput{
		SessionID: s.SessionID,
		Required:  &required,
		LimitsCents: map[string]int64{
			a.Participant.ParticipantID: 2000,
			b.Participant.ParticipantID: 1500,
		},
	})
	if err != nil {
		t.Fatalf("update limits: %v", err)
	}
	if !updated.SpendingLimitRequired {
		t.Error("required flag not set")
	}
	pa := updated.FindParticipant(a.Participant.ParticipantID)
	if pa == nil || pa.SpendingLimitCents == nil || *pa.SpendingLimitCents != 2000 {
		t.Error("alice's limit not applied")
	}
}
