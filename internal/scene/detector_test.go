package scene

import (
	"testing"

	"github.com/dreamhive/memgate/pkg/models"
)

func TestDetectKeywordPriority(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want models.Scene
	}{
		{"meta chinese", "帮我测试一下接口", models.SceneMeta},
		{"meta english upper", "check the MCP Server logs", models.SceneMeta},
		{"plot enter", "来玩剧本吧", models.ScenePlot},
		{"plot enter rp", "我们来RP一下", models.ScenePlot},
		{"plain daily", "今天天气不错", models.SceneDaily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			got, _ := d.Detect(tt.msg, "deepseek")
			if got != tt.want {
				t.Fatalf("Detect(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestPlotIsSticky(t *testing.T) {
	d := NewDetector()

	if got, _ := d.Detect("来玩剧本", "deepseek"); got != models.ScenePlot {
		t.Fatalf("enter: got %v, want plot", got)
	}
	if got, changed := d.Detect("他走进房间", "deepseek"); got != models.ScenePlot || changed {
		t.Fatalf("inherit: got (%v, %v), want (plot, false)", got, changed)
	}
	if got, _ := d.Detect("不演了", "deepseek"); got != models.SceneDaily {
		t.Fatalf("exit: got %v, want daily", got)
	}
	if got, _ := d.Detect("随便聊聊", "deepseek"); got != models.SceneDaily {
		t.Fatalf("after exit: got %v, want daily", got)
	}
}

func TestMetaIsNotSticky(t *testing.T) {
	d := NewDetector()

	d.Detect("来玩剧本", "deepseek")
	if got, _ := d.Detect("测试MCP", "deepseek"); got != models.SceneMeta {
		t.Fatalf("meta: got %v, want meta", got)
	}
	// Meta consumed exactly one message; plot stickiness is gone too.
	if got, _ := d.Detect("继续", "deepseek"); got != models.SceneDaily {
		t.Fatalf("after meta: got %v, want daily", got)
	}
}

func TestExitBeatsEnterInSameMessage(t *testing.T) {
	d := NewDetector()
	d.Detect("来玩剧本", "deepseek")
	if got, _ := d.Detect("不演了，别提剧本了", "deepseek"); got != models.SceneDaily {
		t.Fatalf("got %v, want daily", got)
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	d := NewDetector()
	d.Detect("来玩剧本", "claude")
	if got, _ := d.Detect("你好", "deepseek"); got != models.SceneDaily {
		t.Fatalf("deepseek channel got %v, want daily", got)
	}
	if got := d.Current("claude"); got != models.ScenePlot {
		t.Fatalf("claude channel got %v, want plot", got)
	}
}

func TestDetectIsPureOnRepeat(t *testing.T) {
	d := NewDetector()
	d.Detect("来玩剧本", "deepseek")

	first, _ := d.Detect("他走进房间", "deepseek")
	second, _ := d.Detect("他走进房间", "deepseek")
	if first != second {
		t.Fatalf("same state+msg gave %v then %v", first, second)
	}
}

func TestEmptyMessageKeepsState(t *testing.T) {
	d := NewDetector()
	d.Detect("来玩剧本", "deepseek")
	if got, changed := d.Detect("", "deepseek"); got != models.ScenePlot || changed {
		t.Fatalf("empty msg: got (%v, %v), want (plot, false)", got, changed)
	}
}
