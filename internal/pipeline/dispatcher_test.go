package pipeline

import (
	"context"
	"os"
	"strings"
	"testing"

	"lexicon-go/internal/model"
	"lexicon-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoverOne(t *testing.T) model.EquipmentItem {
	t.Helper()
	root := t.TempDir()
	makeEquipment(t, root, "剑", "1")
	items, err := Discover(root, "weapon")
	require.NoError(t, err)
	return items[0]
}

func TestDispatcher_OneRequestWithAllImages(t *testing.T) {
	fake := &fakeVision{}
	d := NewDispatcher(fake, NewGovernor(2), fastPolicy(), "weapon")

	text, attempts, err := d.Dispatch(context.Background(), discoverOne(t))
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, text, "Tags:")
	assert.Equal(t, int64(1), fake.calls.Load())
	assert.Equal(t, 2, fake.images[1])
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	fake := &fakeVision{respond: func(call int, _ []llm.Image) (string, error) {
		if call == 1 {
			return "", &llm.APIError{StatusCode: 429}
		}
		return "Tags: gold", nil
	}}
	d := NewDispatcher(fake, NewGovernor(1), fastPolicy(), "weapon")

	_, attempts, err := d.Dispatch(context.Background(), discoverOne(t))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDispatcher_TerminalFailures(t *testing.T) {
	fake := &fakeVision{}
	d := NewDispatcher(fake, NewGovernor(1), fastPolicy(), "weapon")
	var terminal *TerminalError

	_, attempts, err := d.Dispatch(context.Background(), model.EquipmentItem{EquipmentID: "5"})
	require.ErrorAs(t, err, &terminal)
	assert.ErrorIs(t, err, ErrNoImages)
	assert.Equal(t, 0, attempts)

	item := discoverOne(t)
	require.NoError(t, os.Remove(item.ImagePaths[1]))
	_, _, err = d.Dispatch(context.Background(), item)
	require.ErrorAs(t, err, &terminal)
	assert.Contains(t, err.Error(), "unreadable image")
	assert.Equal(t, int64(0), fake.calls.Load())
}

func TestDispatcher_UsesItemEquipmentType(t *testing.T) {
	var prompt string
	client := visionFunc(func(ctx context.Context, p string, images []llm.Image) (string, error) {
		prompt = p
		return "Tags: gold", nil
	})
	d := NewDispatcher(client, NewGovernor(1), fastPolicy(), "fallback")

	item := discoverOne(t)
	item.EquipmentType = "头部防具"
	_, _, err := d.Dispatch(context.Background(), item)
	require.NoError(t, err)
	assert.Contains(t, prompt, "头部防具")
	assert.True(t, strings.Contains(prompt, "appearance_description"))
}

func TestBuildPrompt_ListsCategories(t *testing.T) {
	p := BuildPrompt("")
	for _, c := range LabelCategories {
		assert.Contains(t, p, c)
	}
	assert.Contains(t, p, "未知")
}

type visionFunc func(ctx context.Context, prompt string, images []llm.Image) (string, error)

func (f visionFunc) DescribeImages(ctx context.Context, prompt string, images []llm.Image) (string, error) {
	return f(ctx, prompt, images)
}
