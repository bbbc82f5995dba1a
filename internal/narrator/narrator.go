// Package narrator declares the Narration Producer contract: the
// out-of-scope "LLM client that produces narration text and proposed
// state patches" (spec'd as an external collaborator), kept here as a
// real interface with an eino/ark-backed implementation so the turn
// engine's commit-and-narrate route has something concrete to call
// while the lock is held only before and after the round trip, never
// during it.
package narrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	turnmodel "github.com/zhouzirui/turnkeeper/internal/model"
)

// Request carries everything the narration producer needs to propose a
// turn: the current state, the player's stated intent, and any dice
// results already resolved against an expression it requested on a
// prior turn (so it can react to a roll instead of just requesting one).
type Request struct {
	SessionSlug  string
	PlayerIntent string
	State        turnmodel.SessionState
	RecentTurns  []turnmodel.TurnRecord
}

// Proposal is what the narration producer returns: narration prose plus
// a proposed mutation of state, expressed the same way a human operator
// would hand it to the Turn Engine's preview phase.
type Proposal struct {
	DM              turnmodel.DMNarration
	StatePatch      map[string]any
	DiceExpressions []string
	ConsequenceEcho string
}

// Narrator is the contract the HTTP surface's commit-and-narrate route
// calls. Implementations must not assume they hold any session lock —
// the caller is responsible for lock lifecycle around the round trip.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (Proposal, error)
}

// ArkNarrator is the concrete, LLM-backed Narrator built on eino's
// model.ChatModel abstraction over ARK.
type ArkNarrator struct {
	chatModel model.ChatModel
}

// New builds an ArkNarrator around an already-constructed chat model
// (see config.AIConfig.NewChatModel).
func New(chatModel model.ChatModel) *ArkNarrator {
	return &ArkNarrator{chatModel: chatModel}
}

// responseEnvelope is the JSON shape the system prompt instructs the
// model to answer in, so a single Generate call yields both narration
// prose and a machine-readable state proposal.
type responseEnvelope struct {
	Narration       string              `json:"narration"`
	Recap           string              `json:"recap,omitempty"`
	Stakes          string              `json:"stakes,omitempty"`
	Choices         []string            `json:"choices,omitempty"`
	RollRequest     string              `json:"roll_request,omitempty"`
	ConsequenceEcho string              `json:"consequence_echo,omitempty"`
	StatePatch      map[string]any      `json:"state_patch,omitempty"`
	DiceExpressions []string            `json:"dice_expressions,omitempty"`
	Discovery       *turnmodel.Discovery `json:"discovery,omitempty"`
}

// Narrate builds the system/user prompt pair, invokes the chat model,
// and decodes its reply as a Proposal.
func (n *ArkNarrator) Narrate(ctx context.Context, req Request) (Proposal, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt(req)),
		schema.UserMessage(req.PlayerIntent),
	}

	resp, err := n.chatModel.Generate(ctx, messages)
	if err != nil {
		return Proposal{}, apierr.Wrap(apierr.KindUnavailable, err, "narration producer call failed")
	}

	var env responseEnvelope
	if err := json.Unmarshal([]byte(resp.Content), &env); err != nil {
		return Proposal{}, apierr.Wrap(apierr.KindUnavailable, err, "narration producer returned a non-JSON response")
	}

	return Proposal{
		DM: turnmodel.DMNarration{
			Narration:   env.Narration,
			Recap:       env.Recap,
			Stakes:      env.Stakes,
			Choices:     env.Choices,
			RollRequest: env.RollRequest,
			Discovery:   env.Discovery,
		},
		StatePatch:      env.StatePatch,
		DiceExpressions: env.DiceExpressions,
		ConsequenceEcho: env.ConsequenceEcho,
	}, nil
}

// systemPrompt instructs the model to act as Dungeon Master and to
// answer strictly as the responseEnvelope's JSON shape, mirroring the
// teacher's persona-prompt convention of building one long system string
// per call rather than a template asset.
func systemPrompt(req Request) string {
	recap := ""
	for _, t := range req.RecentTurns {
		recap += fmt.Sprintf("Turn %d: %s\n", t.Turn, t.ConsequenceEcho)
	}
	return fmt.Sprintf(`You are the Dungeon Master for a single-player tabletop adventure.
Session: %s
Current state: %s
Recent turns:
%s

Respond with a single JSON object, no prose outside it, matching:
{"narration": string, "recap": string, "stakes": string, "choices": [string], "roll_request": string, "consequence_echo": string, "state_patch": object, "dice_expressions": [string], "discovery": object|null}

state_patch is a merge patch against the current state (RFC 7396 semantics: omitted fields are unchanged, null deletes a field). dice_expressions are evaluated by the engine, not by you — never invent a roll result yourself.`,
		req.SessionSlug, stateSummary(req.State), recap)
}

func stateSummary(s turnmodel.SessionState) string {
	b, err := json.Marshal(s.ToMap())
	if err != nil {
		return "{}"
	}
	return string(b)
}
