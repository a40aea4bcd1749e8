package digitize

import "sync"

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// pageProgress はページワーカーからの進捗を直列化して通知します。
type pageProgress struct {
	mu       sync.Mutex
	cb       ProgressReporter
	total    int
	done     int
	from, to int
}

func newPageProgress(cb ProgressReporter, total, from, to int) *pageProgress {
	return &pageProgress{cb: cb, total: total, from: from, to: to}
}

func (p *pageProgress) pageDone() {
	if p.cb == nil || p.total == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	reportProgress(p.cb, string(StatePageProcessing), p.from+(p.to-p.from)*p.done/p.total)
}
