package main

import (
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/caseorum/dlengine/internal/download"
)

// barManager renders one progress bar per in-flight payload, driven by the
// engine's INIT/PROGRESS/COMPLETED event stream. Bars are created lazily on
// INIT so a batch fetched against an unknown-sized target list still gets a
// bar per payload as it starts, rather than requiring the caller to know
// remote names up front.
type barManager struct {
	mu   sync.Mutex
	pool *pb.Pool
	bars map[string]*pb.ProgressBar
}

const barTemplate = `{{string . "prefix" | printf "%-28s"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`

func newBarManager() (*barManager, error) {
	pool := pb.NewPool()
	if err := pool.Start(); err != nil {
		return nil, err
	}
	return &barManager{pool: pool, bars: make(map[string]*pb.ProgressBar)}, nil
}

// onEvent is a download.EventFunc suitable for Options.OnEvent or the
// eventFn parameter of FetchPkgURL.
func (m *barManager) onEvent(ev download.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case download.EventInit:
		bar := pb.New64(0)
		bar.Set("prefix", ev.RemoteName)
		bar.SetTemplateString(barTemplate)
		bar.Start()
		m.bars[ev.RemoteName] = bar
		m.pool.Add(bar)

	case download.EventProgress:
		bar, ok := m.bars[ev.RemoteName]
		if !ok {
			return
		}
		if ev.Data.Total > 0 {
			bar.SetTotal(ev.Data.Total)
		}
		bar.SetCurrent(ev.Data.Downloaded)

	case download.EventCompleted:
		bar, ok := m.bars[ev.RemoteName]
		if !ok {
			return
		}
		if ev.Data.Total > 0 {
			bar.SetTotal(ev.Data.Total)
			bar.SetCurrent(ev.Data.Total)
		}
		bar.Finish()
	}
}

func (m *barManager) stop() {
	_ = m.pool.Stop()
}
