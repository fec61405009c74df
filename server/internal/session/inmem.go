package session

import (
	"context"
	"sync"

	"spar-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的会话存储实现。
// 单机调试与测试用；重启即丢数据，多实例部署请换 RedisStore。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.SparringSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*model.SparringSession)}
}

// Create 新建会话，id 已存在时返回 ErrExists。
func (s *InMemoryStore) Create(_ context.Context, sess *model.SparringSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[sess.SessionID]; ok {
		return ErrExists
	}
	cp := clone(sess)
	s.data[sess.SessionID] = cp
	return nil
}

// Get 根据 id 获取会话快照（返回副本，调用方可随意修改）。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.SparringSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

// Save 乐观提交：Rev 不一致时拒绝写入。
func (s *InMemoryStore) Save(_ context.Context, sess *model.SparringSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[sess.SessionID]
	if !ok {
		return ErrNotFound
	}
	if cur.Rev != sess.Rev {
		return ErrRevConflict
	}
	sess.Rev++
	s.data[sess.SessionID] = clone(sess)
	return nil
}

// clone 复制会话快照；MicroScoreRecord 追加后不可变，浅拷贝切片元素即可。
func clone(sess *model.SparringSession) *model.SparringSession {
	cp := *sess
	if sess.MicroScores != nil {
		cp.MicroScores = make([]model.MicroScoreRecord, len(sess.MicroScores))
		copy(cp.MicroScores, sess.MicroScores)
	}
	if sess.FinalScore != nil {
		v := *sess.FinalScore
		cp.FinalScore = &v
	}
	if sess.XPAwarded != nil {
		v := *sess.XPAwarded
		cp.XPAwarded = &v
	}
	if sess.Finalize != nil {
		v := *sess.Finalize
		cp.Finalize = &v
	}
	return &cp
}
