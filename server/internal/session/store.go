package session

import (
	"context"
	"errors"

	"spar-talk/server/internal/model"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrRevConflict 表示基于过期快照的写入被拒绝（last-committed-wins）。
	ErrRevConflict = errors.New("session revision conflict")
	ErrExists      = errors.New("session already exists")
)

// Store 会话持久化接口。
//
// 并发契约：Save 以 Rev 做乐观并发校验——只有当存储中的版本号与
// 传入快照一致时才提交，并把 Rev 加一写回传入对象；否则返回
// ErrRevConflict 且不产生任何修改。同一会话的轮次提交因此天然
// 串行化，跨会话之间没有共享可变状态。
type Store interface {
	Create(ctx context.Context, s *model.SparringSession) error
	Get(ctx context.Context, id string) (*model.SparringSession, error)
	Save(ctx context.Context, s *model.SparringSession) error
}
