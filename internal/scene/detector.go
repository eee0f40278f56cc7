// Package scene classifies user messages into conversational modes with a
// pure keyword rule engine. No I/O, no latency.
package scene

import (
	"strings"
	"sync"

	"github.com/dreamhive/memgate/pkg/models"
)

// metaKeywords mark tooling or maintenance chatter. Matched case-insensitively.
var metaKeywords = []string{
	"测试", "test", "mcp", "工具", "tool", "服务器", "server",
	"api", "debug", "调试", "接口", "endpoint", "日志", "log",
}

// plotEnterKeywords switch a channel into roleplay mode.
var plotEnterKeywords = []string{
	"剧本", "来演", "来玩", "角色扮演", "rp", "继续剧情", "接着演",
	"开始演", "进入剧情", "剧情开始",
}

// plotExitKeywords switch a channel back to daily mode. Exit checks run
// before enter checks so "不演了" wins over any enter word in the same message.
var plotExitKeywords = []string{
	"不玩了", "回来", "正常聊", "出戏", "暂停",
	"停一下", "别演了", "回到现实", "不演了",
}

type channelState struct {
	current  models.Scene
	previous models.Scene
}

// Detector tracks per-channel scene state. Plot and daily are sticky until
// an explicit keyword flips them; meta lasts for exactly one message.
// State is process-local and resets on restart.
type Detector struct {
	mu     sync.Mutex
	scenes map[string]*channelState
}

// NewDetector creates a detector with all channels in daily mode.
func NewDetector() *Detector {
	return &Detector{scenes: make(map[string]*channelState)}
}

func (d *Detector) state(channel string) *channelState {
	st, ok := d.scenes[channel]
	if !ok {
		st = &channelState{current: models.SceneDaily, previous: models.SceneDaily}
		d.scenes[channel] = st
	}
	return st
}

// Detect classifies userMsg for channel and returns the scene plus whether
// this message changed the channel's sticky state.
func (d *Detector) Detect(userMsg, channel string) (models.Scene, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.state(channel)
	if userMsg == "" {
		return st.current, false
	}

	lower := strings.ToLower(userMsg)
	st.previous = st.current

	for _, kw := range metaKeywords {
		if strings.Contains(lower, kw) {
			changed := st.current != models.SceneMeta
			st.current = models.SceneMeta
			return models.SceneMeta, changed
		}
	}

	for _, kw := range plotExitKeywords {
		if strings.Contains(userMsg, kw) {
			changed := st.current != models.SceneDaily
			st.current = models.SceneDaily
			return models.SceneDaily, changed
		}
	}

	for _, kw := range plotEnterKeywords {
		if strings.Contains(lower, kw) {
			changed := st.current != models.ScenePlot
			st.current = models.ScenePlot
			return models.ScenePlot, changed
		}
	}

	// Meta never sticks: the message after a meta message falls back to
	// daily unless its own content said otherwise above.
	if st.previous == models.SceneMeta {
		st.current = models.SceneDaily
		return models.SceneDaily, true
	}

	return st.current, false
}

// Current returns the sticky scene for channel without consuming a message.
func (d *Detector) Current(channel string) models.Scene {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state(channel).current
}

// Reset clears state for one channel, or all channels when channel is empty.
func (d *Detector) Reset(channel string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if channel == "" {
		d.scenes = make(map[string]*channelState)
		return
	}
	delete(d.scenes, channel)
}
