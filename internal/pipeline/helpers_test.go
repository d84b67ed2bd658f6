package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lexicon-go/pkg/llm"

	"github.com/stretchr/testify/require"
)

// fakeVision 是测试用的视觉模型，记录调用次数和最大并发。
type fakeVision struct {
	delay   time.Duration
	respond func(call int, images []llm.Image) (string, error)

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu     sync.Mutex
	images map[int]int
}

func (f *fakeVision) DescribeImages(ctx context.Context, prompt string, images []llm.Image) (string, error) {
	call := int(f.calls.Add(1))
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	if f.images == nil {
		f.images = make(map[int]int)
	}
	f.images[call] = len(images)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.respond != nil {
		return f.respond(call, images)
	}
	return "<think>looking</think>Tags: gold, metal\nDescription: shiny", nil
}

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	p.JitterFraction = 0
	return p
}

// makeEquipment 在 root 下创建 "<name>_<id>" 目录和正反面两张图片。
func makeEquipment(t *testing.T, root, name, id string) string {
	t.Helper()
	dir := filepath.Join(root, name+"_"+id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_h0_p0.png"), []byte("\x89PNGfront"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_h180_p0.png"), []byte("\x89PNGback"), 0644))
	return dir
}
