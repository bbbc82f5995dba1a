package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/livebus"
	"github.com/zhouzirui/turnkeeper/internal/model"
	"github.com/zhouzirui/turnkeeper/internal/narrator"
	"github.com/zhouzirui/turnkeeper/internal/turnengine"
)

type previewRequest struct {
	Response        string         `json:"response"`
	StatePatch      map[string]any `json:"state_patch"`
	TranscriptEntry string         `json:"transcript_entry"`
	ChangelogEntry  map[string]any `json:"changelog_entry"`
	DiceExpressions []string       `json:"dice_expressions"`
	LockOwner       string         `json:"lock_owner"`
	PlayerIntent    string         `json:"player_intent"`
}

func (s *Server) handlePreviewTurn(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	out, err := s.engine.Preview(r.Context(), turnengine.PreviewInput{
		Slug:            slug,
		Response:        req.Response,
		StatePatch:      req.StatePatch,
		TranscriptEntry: req.TranscriptEntry,
		ChangelogEntry:  req.ChangelogEntry,
		DiceExpressions: req.DiceExpressions,
		LockOwner:       req.LockOwner,
		PlayerIntent:    req.PlayerIntent,
	})
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	respondJSON(w, s.log, http.StatusOK, out)
}

type commitRequest struct {
	PreviewID       string `json:"preview_id"`
	LockOwner       string `json:"lock_owner"`
	PlayerIntent    string `json:"player_intent"`
	ConsequenceEcho string `json:"consequence_echo"`
}

func (s *Server) handleCommitTurn(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}
	out, err := s.engine.Commit(r.Context(), turnengine.CommitInput{
		Slug:            slug,
		PreviewID:       req.PreviewID,
		LockOwner:       req.LockOwner,
		PlayerIntent:    req.PlayerIntent,
		ConsequenceEcho: req.ConsequenceEcho,
	})
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	s.publishCommit(slug, out)
	respondJSON(w, s.log, http.StatusOK, out)
}

type commitAndNarrateRequest struct {
	commitRequest
	// UseNarrator asks the Narrator to propose the preview's state_patch,
	// dice_expressions and DM narration instead of taking them verbatim
	// from an already-generated preview. When false (the default), the
	// caller is expected to have already run preview with its own
	// narration content and this route only adds the DM/discovery
	// persistence commit lacks.
	UseNarrator bool                `json:"use_narrator"`
	DM          *model.DMNarration  `json:"dm"`
	Discovery   *model.Discovery    `json:"discovery"`
}

// handleCommitAndNarrate commits an already-created preview and persists
// a turn record carrying DM narration and any conditional discovery.
// When use_narrator is set, it first calls the Narrator to propose a
// preview (without holding the lock any longer than the preview/commit
// calls themselves need it), then commits that proposal — the LLM round
// trip itself never happens while a write is in flight.
func (s *Server) handleCommitAndNarrate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req commitAndNarrateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, s.log, err)
		return
	}

	dm := req.DM
	discovery := req.Discovery
	previewID := req.PreviewID

	if req.UseNarrator {
		if s.narrator == nil {
			respondError(w, s.log, apierr.New(apierr.KindUnavailable, "no narrator is configured"))
			return
		}
		state, err := s.store.LoadState(r.Context(), slug)
		if err != nil {
			respondError(w, s.log, err)
			return
		}
		recent, err := s.store.LoadTurnRecords(r.Context(), slug, 5)
		if err != nil {
			respondError(w, s.log, err)
			return
		}
		proposal, err := s.narrator.Narrate(r.Context(), narrator.Request{
			SessionSlug:  slug,
			PlayerIntent: req.PlayerIntent,
			State:        state,
			RecentTurns:  recent,
		})
		if err != nil {
			respondError(w, s.log, err)
			return
		}

		preview, err := s.engine.Preview(r.Context(), turnengine.PreviewInput{
			Slug:            slug,
			Response:        proposal.DM.Narration,
			StatePatch:      proposal.StatePatch,
			DiceExpressions: proposal.DiceExpressions,
			LockOwner:       req.LockOwner,
			PlayerIntent:    req.PlayerIntent,
		})
		if err != nil {
			respondError(w, s.log, err)
			return
		}
		previewID = preview.ID
		dm = &proposal.DM
		discovery = proposal.DM.Discovery
		if req.ConsequenceEcho == "" {
			req.ConsequenceEcho = proposal.ConsequenceEcho
		}
	}

	out, err := s.engine.Commit(r.Context(), turnengine.CommitInput{
		Slug:            slug,
		PreviewID:       previewID,
		LockOwner:       req.LockOwner,
		PlayerIntent:    req.PlayerIntent,
		ConsequenceEcho: req.ConsequenceEcho,
		DM:              dm,
		Discovery:       discovery,
	})
	if err != nil {
		respondError(w, s.log, err)
		return
	}
	s.publishCommit(slug, out)
	respondJSON(w, s.log, http.StatusOK, out)
}

func (s *Server) publishCommit(slug string, out turnengine.CommitOutput) {
	delta := livebus.Delta{}
	if len(out.TranscriptEntries) > 0 {
		delta.Transcript = &livebus.LogDelta{Lines: out.TranscriptEntries}
	}
	if len(out.ChangelogEntries) > 0 {
		delta.Changelog = &livebus.LogDelta{Lines: out.ChangelogEntries}
	}
	if len(out.Rolls) > 0 {
		delta.Rolls = &livebus.RollsDelta{Turn: out.State.Turn, Items: out.Rolls}
	}
	s.bus.Publish(slug, delta)
}
