package enforcer

import (
	"context"
	"sync"
	"time"
)

// ContentStore is the slice of the content system the enforcer and revertors
// touch. All hooks are idempotent: re-deleting deleted content or restoring
// already-visible content is not an error.
type ContentStore interface {
	SoftDelete(ctx context.Context, subjectType, subjectID string) error
	Restore(ctx context.Context, subjectType, subjectID string) error
	ShadowHide(ctx context.Context, subjectType, subjectID string) error
	Unhide(ctx context.Context, subjectType, subjectID string) error
	IsPublic(ctx context.Context, subjectType, subjectID string) (bool, error)
	IsShadowed(ctx context.Context, subjectType, subjectID string) (bool, error)
	// CreatedAt returns the subject's creation time, or the zero time when the
	// content system does not know the subject.
	CreatedAt(ctx context.Context, subjectType, subjectID string) (time.Time, error)
}

// SubjectResolver maps a subject to its owning user, for notification
// targeting. A nil-equivalent result is the empty string.
type SubjectResolver interface {
	ResolveOwner(ctx context.Context, subjectType, subjectID string) (string, error)
}

type contentState struct {
	deleted   bool
	shadowed  bool
	createdAt time.Time
}

// MemContentStore tracks per-subject visibility state in memory. Used as the
// test double and by local development runs.
type MemContentStore struct {
	lk    sync.Mutex
	state map[string]*contentState
}

func NewMemContentStore() *MemContentStore {
	return &MemContentStore{state: make(map[string]*contentState)}
}

var _ ContentStore = (*MemContentStore)(nil)

func (m *MemContentStore) get(subjectType, subjectID string) *contentState {
	k := subjectType + "/" + subjectID
	st, ok := m.state[k]
	if !ok {
		st = &contentState{}
		m.state[k] = st
	}
	return st
}

func (m *MemContentStore) SoftDelete(ctx context.Context, subjectType, subjectID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.get(subjectType, subjectID).deleted = true
	return nil
}

func (m *MemContentStore) Restore(ctx context.Context, subjectType, subjectID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	st := m.get(subjectType, subjectID)
	st.deleted = false
	st.shadowed = false
	return nil
}

func (m *MemContentStore) ShadowHide(ctx context.Context, subjectType, subjectID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.get(subjectType, subjectID).shadowed = true
	return nil
}

func (m *MemContentStore) Unhide(ctx context.Context, subjectType, subjectID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.get(subjectType, subjectID).shadowed = false
	return nil
}

func (m *MemContentStore) IsPublic(ctx context.Context, subjectType, subjectID string) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	st := m.get(subjectType, subjectID)
	return !st.deleted && !st.shadowed, nil
}

func (m *MemContentStore) IsShadowed(ctx context.Context, subjectType, subjectID string) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.get(subjectType, subjectID).shadowed, nil
}

func (m *MemContentStore) CreatedAt(ctx context.Context, subjectType, subjectID string) (time.Time, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.get(subjectType, subjectID).createdAt, nil
}

func (m *MemContentStore) SetCreatedAt(subjectType, subjectID string, t time.Time) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.get(subjectType, subjectID).createdAt = t
}

// MemSubjectResolver is a fixed subject→owner map for tests.
type MemSubjectResolver struct {
	Owners map[string]string
}

func NewMemSubjectResolver() *MemSubjectResolver {
	return &MemSubjectResolver{Owners: make(map[string]string)}
}

var _ SubjectResolver = (*MemSubjectResolver)(nil)

func (m *MemSubjectResolver) ResolveOwner(ctx context.Context, subjectType, subjectID string) (string, error) {
	return m.Owners[subjectType+"/"+subjectID], nil
}
