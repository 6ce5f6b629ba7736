package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonearm/tonearm/internal/auth"
	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
)

type feedbackRequest struct {
	Verdict string `json:"verdict"`

	// Rank selects which candidate the verdict refers to. Zero means the
	// final result (equivalent to rank 1).
	Rank int `json:"rank,omitempty"`

	// Genre optionally tags the feedback with a genre the candidates do not
	// carry themselves.
	Genre string `json:"genre,omitempty"`
}

type feedbackResponse struct {
	Status  string `json:"status"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Verdict string `json:"verdict"`
}

// handleFeedback records an accept/reject verdict for a resolved recall. The
// verdict feeds the preference store that re-ranks future candidates.
func (rt *Router) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := rt.verifier.Verify(ctx, auth.FromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var body feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	verdict := prefs.Verdict(body.Verdict)
	if !verdict.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown verdict %q", body.Verdict)})
		return
	}

	req, err := rt.store.GetRequest(ctx, r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "recall not found"})
		return
	}
	if err != nil {
		rt.internalError(w, "get request", err)
		return
	}
	if req.Status != ledger.RequestDone {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "feedback requires a resolved recall"})
		return
	}

	title, artist, err := rt.feedbackTarget(ctx, req, body.Rank)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := rt.prefs.RecordFeedback(ctx, prefs.Feedback{
		UserID:    userID,
		RequestID: req.ID,
		Title:     title,
		Artist:    artist,
		Genre:     body.Genre,
		Verdict:   verdict,
		CreatedAt: rt.now(),
	}); err != nil {
		rt.internalError(w, "record feedback", err)
		return
	}
	if err := rt.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: req.ID,
		Stage:     "feedback",
		Message:   fmt.Sprintf("%s %q by %q", verdict, title, artist),
	}); err != nil {
		rt.logger.Warn("router: audit append failed", "request", req.ID, "err", err)
	}

	rt.logger.Info("router: feedback recorded",
		"request", req.ID, "user", userID, "verdict", verdict, "artist", artist)
	writeJSON(w, http.StatusOK, feedbackResponse{
		Status:  "recorded",
		Title:   title,
		Artist:  artist,
		Verdict: string(verdict),
	})
}

// feedbackTarget resolves the song the verdict applies to: the stored result
// when no rank is given, otherwise the candidate at that rank.
func (rt *Router) feedbackTarget(ctx context.Context, req *ledger.RecallRequest, rank int) (title, artist string, err error) {
	if rank == 0 {
		if req.ResultTitle == "" {
			return "", "", fmt.Errorf("recall resolved without a result; give a candidate rank")
		}
		return req.ResultTitle, req.ResultArtist, nil
	}
	candidates, err := rt.store.GetCandidates(ctx, req.ID)
	if err != nil {
		return "", "", fmt.Errorf("load candidates: %w", err)
	}
	for _, c := range candidates {
		if c.Rank == rank {
			return c.Title, c.Artist, nil
		}
	}
	return "", "", fmt.Errorf("no candidate at rank %d", rank)
}
