package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/storage"
)

// DraftVersion is the schema version written into every draft.
const DraftVersion = 2

var (
	// ErrNoDraft is returned when no draft is stored.
	ErrNoDraft = errors.New("quote: no draft")
	// ErrDraftExpired is returned for drafts older than the maximum age.
	ErrDraftExpired = errors.New("quote: draft expired")
	// ErrDraftVersionMismatch is returned for drafts written with another schema version.
	ErrDraftVersionMismatch = errors.New("quote: draft version mismatch")
	// ErrDraftCorrupt is returned when a draft cannot be decoded.
	ErrDraftCorrupt = errors.New("quote: draft corrupt")
)

var draftMessages = map[error]string{
	ErrDraftExpired:            "保存された見積もりは有効期限（7日間）を過ぎたため破棄されました。",
	ErrDraftVersionMismatch:    "保存された見積もりの形式が古いため読み込めませんでした。",
	ErrDraftCorrupt:            "保存された見積もりを読み込めませんでした。",
	storage.ErrVersionConflict: "別の画面で見積もりが更新されました。最新の内容を確認してください。",
}

type draftEnvelope struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

// DraftConfig configures Drafts.
type DraftConfig struct {
	Debounce time.Duration
	MaxAge   time.Duration
}

// Drafts snapshots a session's quote state into storage.
type Drafts struct {
	store     storage.Store
	sessionID string
	logger    *zap.Logger
	cfg       DraftConfig
	now       func() time.Time

	// saveMu serializes writes so each one carries the version of the previous.
	saveMu sync.Mutex

	mu       sync.Mutex
	timer    *time.Timer
	pending  *State
	version  int64
	lastErr  string
	closed   bool
	inflight sync.WaitGroup
}

// NewDrafts returns Drafts for sessionID.
func NewDrafts(store storage.Store, sessionID string, cfg DraftConfig, logger *zap.Logger) *Drafts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafts{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		version:   storage.AnyVersion,
	}
}

// Schedule saves s once no newer state has been scheduled for the debounce period.
func (d *Drafts) Schedule(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	snapshot := s.Clone()
	d.pending = &snapshot
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.cfg.Debounce, func() {
		_ = d.Flush(context.Background())
	})
}

// Flush saves a scheduled state now.
func (d *Drafts) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if pending == nil {
		d.mu.Unlock()
		return nil
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	return d.save(ctx, *pending)
}

// Save writes s immediately, dropping any scheduled state.
func (d *Drafts) Save(ctx context.Context, s State) error {
	d.mu.Lock()
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	return d.save(ctx, s)
}

func (d *Drafts) save(ctx context.Context, s State) error {
	raw, err := json.Marshal(draftEnvelope{Version: DraftVersion, Timestamp: d.now().UTC(), State: s})
	if err != nil {
		return fmt.Errorf("encode quote draft: %w", err)
	}

	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.Lock()
	expected := d.version
	d.mu.Unlock()

	version, err := d.store.Put(ctx, d.sessionID, storage.KeyQuoteDraft, raw, expected)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// The next save overwrites whatever the other writer stored.
			d.version = storage.AnyVersion
		}
		d.lastErr = userMessage(err, "見積もりの保存に失敗しました。")
		d.logger.Error("save quote draft", zap.String("session", d.sessionID), zap.Error(err))
		return fmt.Errorf("save quote draft: %w", err)
	}
	d.version = version
	d.lastErr = ""
	return nil
}

// Load returns the stored draft. Expired, version-mismatched or corrupt drafts
// are deleted and reported through an error and LastError.
func (d *Drafts) Load(ctx context.Context) (*State, error) {
	entry, err := d.store.Get(ctx, d.sessionID, storage.KeyQuoteDraft)
	if errors.Is(err, storage.ErrNotFound) {
		d.setVersion(0)
		return nil, ErrNoDraft
	}
	if err != nil {
		d.setError(userMessage(err, "見積もりの読み込みに失敗しました。"))
		return nil, fmt.Errorf("load quote draft: %w", err)
	}

	var env draftEnvelope
	switch {
	case json.Unmarshal(entry.Value, &env) != nil:
		err = ErrDraftCorrupt
	case env.Version != DraftVersion:
		err = fmt.Errorf("%w: stored %d, want %d", ErrDraftVersionMismatch, env.Version, DraftVersion)
	case d.now().Sub(env.Timestamp) > d.cfg.MaxAge:
		err = fmt.Errorf("%w: saved %s", ErrDraftExpired, env.Timestamp.Format(time.RFC3339))
	}
	if err != nil {
		d.setError(userMessage(err, ""))
		if delErr := d.store.Delete(ctx, d.sessionID, storage.KeyQuoteDraft); delErr != nil {
			d.logger.Warn("delete rejected quote draft", zap.Error(delErr))
			d.setVersion(storage.AnyVersion)
		} else {
			d.setVersion(0)
		}
		return nil, err
	}

	d.mu.Lock()
	d.version = entry.Version
	d.lastErr = ""
	d.mu.Unlock()

	s := env.State
	return &s, nil
}

// Clear deletes the stored draft and any scheduled save.
func (d *Drafts) Clear(ctx context.Context) error {
	d.mu.Lock()
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.store.Delete(ctx, d.sessionID, storage.KeyQuoteDraft); err != nil {
		return fmt.Errorf("clear quote draft: %w", err)
	}
	d.setVersion(0)
	return nil
}

// LastError returns the user-facing message of the last failed load or save.
func (d *Drafts) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Close saves a scheduled state and stops the debounce timer.
func (d *Drafts) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := d.Flush(ctx)
	d.inflight.Wait()
	return err
}

func (d *Drafts) setVersion(v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
}

func (d *Drafts) setError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastErr = msg
}

func userMessage(err error, fallback string) string {
	for target, msg := range draftMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return fallback
}
