package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/astrorpc/internal/journal"
)

// handleListJournal returns recorded requests, newest first.
//
// Query parameters: method, outcome, source, limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Method: q.Get("method"),
		Source: q.Get("source"),
	}

	if outcome := q.Get("outcome"); outcome != "" {
		switch o := journal.Outcome(outcome); o {
		case journal.OutcomeOK, journal.OutcomeError, journal.OutcomeTimeout, journal.OutcomeRejected:
			filter.Outcome = o
		default:
			writeBadRequest(w, "outcome must be one of ok, error, timeout, rejected")
			return
		}
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
