package store

import (
	"time"
)

type writeRecord struct {
	version int32
	expires time.Time
}

// writeLog 记录本客户端已被确认的写入 (id, version)。
// 变更推送中版本不高于记录的事件视为回声。过期只用于回收内存，
// 判断依据是版本号而不是时间窗口。
//
// 已删除的 id 单独记录，不随时间过期，直到切换周时才清空，
// 删除之后迟到的插入/更新不会让条目复活。
type writeLog struct {
	ttl     time.Duration
	now     func() time.Time
	records map[string]writeRecord
	deleted map[string]struct{}
}

func newWriteLog(ttl time.Duration, now func() time.Time) *writeLog {
	return &writeLog{
		ttl:     ttl,
		now:     now,
		records: make(map[string]writeRecord),
		deleted: make(map[string]struct{}),
	}
}

func (l *writeLog) record(id string, version int32) {
	l.prune()

	if r, ok := l.records[id]; ok && r.version > version {
		version = r.version
	}
	l.records[id] = writeRecord{version: version, expires: l.now().Add(l.ttl)}
}

func (l *writeLog) recordDelete(id string) {
	delete(l.records, id)
	l.deleted[id] = struct{}{}
}

func (l *writeLog) covers(id string, version int32) bool {
	if _, ok := l.deleted[id]; ok {
		return true
	}

	l.prune()

	r, ok := l.records[id]
	return ok && version <= r.version
}

// forgetDeletes 在会话结束时清空删除记录。
func (l *writeLog) forgetDeletes() {
	clear(l.deleted)
}

func (l *writeLog) prune() {
	now := l.now()
	for id, r := range l.records {
		if !now.Before(r.expires) {
			delete(l.records, id)
		}
	}
}
