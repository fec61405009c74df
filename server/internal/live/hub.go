package live

import (
	"log"
	"sync"
	"sync/atomic"

	"spar-talk/server/internal/model"
)

// 每个订阅者的事件缓冲容量：写满即丢弃该事件（背压控制），
// 慢观战端不允许阻塞引擎的轮次处理。
const subscriberBuffer = 16

// Hub 按 session 维度向观战端（教练旁听 / 回放面板）广播时间线事件。
// 引擎是唯一的发布方；订阅方只读。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}

	droppedEvents atomic.Int64
}

// Dropped 返回因订阅者过慢而被丢弃的事件总数。
func (h *Hub) Dropped() int64 {
	return h.droppedEvents.Load()
}

// Subscriber 一个观战连接的事件出口。
type Subscriber struct {
	C chan model.Event

	hub       *Hub
	sessionID string
	once      sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe 订阅某个 session 的后续事件。
// 历史事件请先走 timeline 回放，再订阅增量。
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		C:         make(chan model.Event, subscriberBuffer),
		hub:       h,
		sessionID: sessionID,
	}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	count := len(h.subs[sessionID])
	h.mu.Unlock()

	log.Printf("[Live] subscriber added: session=%s total=%d", sessionID, count)
	return sub
}

// Close 退订并关闭事件通道。可安全多次调用。
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.sessionID)
			}
		}
		s.hub.mu.Unlock()
		close(s.C)
	})
}

// Publish 向该 session 的全部订阅者广播事件（非阻塞）。
// 订阅者缓冲写满时丢弃本条事件并计数，绝不阻塞调用方。
func (h *Hub) Publish(sessionID string, evt model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[sessionID] {
		select {
		case sub.C <- evt:
		default:
			h.droppedEvents.Add(1)
			log.Printf("[Live] slow subscriber, event dropped: session=%s type=%s", sessionID, evt.Type)
		}
	}
}
