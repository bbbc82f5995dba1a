package narrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/narrator"
	turnmodel "github.com/zhouzirui/turnkeeper/internal/model"
)

// fakeChatModel is a test double for eino's model.ChatModel, returning a
// canned response (or error) instead of calling out to ARK.
type fakeChatModel struct {
	content string
	err     error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not used by the narration producer")
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

func TestNarrateDecodesProposalFromJSONResponse(t *testing.T) {
	chat := &fakeChatModel{content: `{
		"narration": "The torch flickers as you step into the crypt.",
		"stakes": "The air grows cold.",
		"choices": ["press on", "retreat"],
		"state_patch": {"hp": 8},
		"dice_expressions": ["1d20"],
		"consequence_echo": "you feel watched"
	}`}
	n := narrator.New(chat)

	proposal, err := n.Narrate(context.Background(), narrator.Request{
		SessionSlug:  "camp-1",
		PlayerIntent: "I step into the crypt",
		State:        turnmodel.SessionState{Turn: 3, HP: 10, MaxHP: 10, Flags: map[string]any{}, Extra: map[string]any{}},
	})
	require.NoError(t, err)

	assert.Equal(t, "The torch flickers as you step into the crypt.", proposal.DM.Narration)
	assert.Equal(t, []string{"press on", "retreat"}, proposal.DM.Choices)
	assert.Equal(t, float64(8), proposal.StatePatch["hp"])
	assert.Equal(t, []string{"1d20"}, proposal.DiceExpressions)
	assert.Equal(t, "you feel watched", proposal.ConsequenceEcho)
}

func TestNarrateWrapsChatModelErrorAsUnavailable(t *testing.T) {
	chat := &fakeChatModel{err: errors.New("upstream timeout")}
	n := narrator.New(chat)

	_, err := n.Narrate(context.Background(), narrator.Request{SessionSlug: "camp-1"})

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUnavailable, apiErr.Kind)
}

func TestNarrateRejectsNonJSONResponse(t *testing.T) {
	chat := &fakeChatModel{content: "not json at all"}
	n := narrator.New(chat)

	_, err := n.Narrate(context.Background(), narrator.Request{SessionSlug: "camp-1"})

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUnavailable, apiErr.Kind)
}

func TestNarrateCarriesDiscoveryThrough(t *testing.T) {
	chat := &fakeChatModel{content: `{
		"narration": "Behind the rubble you find an old shrine.",
		"discovery": {"id": "shrine-1", "name": "Old Shrine", "type": "location", "importance": 2}
	}`}
	n := narrator.New(chat)

	proposal, err := n.Narrate(context.Background(), narrator.Request{SessionSlug: "camp-1"})
	require.NoError(t, err)

	require.NotNil(t, proposal.DM.Discovery)
	assert.Equal(t, "shrine-1", proposal.DM.Discovery.ID)
	assert.Equal(t, 2, proposal.DM.Discovery.Importance)
}
