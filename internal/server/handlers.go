package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

type entryView struct {
	model.NormalizedEntry
	Duration        string `json:"duration"`
	RoundedDuration string `json:"rounded_duration"`
	Hours           string `json:"hours"`
}

type targetView struct {
	model.TargetTimeEntry
	Duration string `json:"duration"`
}

type sourceReportView struct {
	Generation uint64         `json:"generation"`
	State      report.State   `json:"state"`
	Entries    []entryView    `json:"entries"`
	Rows       []*publish.Row `json:"rows"`
	Total      string         `json:"total"`
	Error      string         `json:"error,omitempty"`
}

type targetReportView struct {
	Generation uint64       `json:"generation"`
	State      report.State `json:"state"`
	Entries    []targetView `json:"entries"`
	Total      string       `json:"total"`
	Error      string       `json:"error,omitempty"`
}

type publishRequest struct {
	Date   string         `json:"date"`
	Rows   []*publish.Row `json:"rows"`
	DryRun bool           `json:"dry_run"`
}

func entryViews(entries []model.NormalizedEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			NormalizedEntry: e,
			Duration:        e.Duration.HHMM(),
			RoundedDuration: e.RoundedDuration.HHMM(),
			Hours:           e.RoundedDuration.DecimalHours(),
		})
	}
	return out
}

func targetViews(entries []model.TargetTimeEntry) []targetView {
	out := make([]targetView, 0, len(entries))
	for _, e := range entries {
		out = append(out, targetView{TargetTimeEntry: e, Duration: e.Duration.HHMM()})
	}
	return out
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// fail writes err in the {"errors": [...]} shape of the Redmine API.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"errors": []string{err.Error()}}

	var fe *apperr.FieldError
	var api *apperr.APIError
	var rw *apperr.RemoteWriteError
	switch {
	case errors.As(err, &fe):
		status = http.StatusUnprocessableEntity
		body["field"] = fe.Field
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNoSelection):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrPublishLocked):
		status = http.StatusConflict
	case errors.As(err, &rw) && len(rw.Messages) > 0:
		status = http.StatusUnprocessableEntity
		body["errors"] = rw.Messages
	case errors.As(err, &api):
		status = http.StatusBadGateway
	}
	c.JSON(status, body)
}

func (s *Server) handleSourceEntries(c *gin.Context) {
	for _, param := range []string{"from", "till"} {
		if c.Query(param) == "" {
			c.JSON(http.StatusForbidden, gin.H{"errors": "Parameter '" + param + "' must be present."})
			return
		}
	}
	from, err := timecalc.ParseInstant(c.Query("from"), s.deps.Location)
	if err != nil {
		fail(c, &apperr.FieldError{Field: "from", Err: err})
		return
	}
	till, err := timecalc.ParseInstant(c.Query("till"), s.deps.Location)
	if err != nil {
		fail(c, &apperr.FieldError{Field: "till", Err: err})
		return
	}
	workspaces, err := parseIDList(c.Query("workspaces"))
	if err != nil {
		fail(c, &apperr.FieldError{Field: "workspaces", Err: err})
		return
	}

	ctx := c.Request.Context()
	var only *int64
	if len(workspaces) == 1 {
		only = &workspaces[0]
	}
	records, err := s.deps.Source.ListEntries(ctx, from, till, only)
	if err != nil {
		fail(c, err)
		return
	}
	if len(workspaces) > 1 {
		records = filterWorkspaces(records, workspaces)
	}

	entries, err := s.deps.Normalizer.NormalizeRecords(ctx, records, s.deps.Reports.Selection())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entryViews(entries))
}

func (s *Server) handleWorkspaces(c *gin.Context) {
	ws, err := s.deps.Source.ListWorkspaces(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (s *Server) handleTargetEntries(c *gin.Context) {
	day, err := timecalc.ParseDay(c.Query("date"), s.deps.Location)
	if err != nil {
		fail(c, &apperr.FieldError{Field: "date", Err: err})
		return
	}
	ctx := c.Request.Context()
	entries, err := s.deps.Target.GetTimeEntries(ctx, day, day)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, targetViews(s.deps.Normalizer.Targets(ctx, entries)))
}

func (s *Server) handleActivities(c *gin.Context) {
	acts, err := s.deps.Target.ListActivities(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, acts)
}

func (s *Server) filterBody() gin.H {
	return gin.H{
		"selection":       s.deps.Reports.Selection(),
		"fragment":        s.deps.Reports.Fragment(),
		"publish_enabled": s.deps.Publisher.Enabled(),
	}
}

func (s *Server) handleGetFilter(c *gin.Context) {
	c.JSON(http.StatusOK, s.filterBody())
}

func (s *Server) handleSetFilter(c *gin.Context) {
	var sel model.FilterSelection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{err.Error()}})
		return
	}
	if err := s.deps.Reports.Apply(c.Request.Context(), sel); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.filterBody())
}

func (s *Server) handleReport(c *gin.Context) {
	if err := s.deps.Reports.Wait(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"errors": []string{err.Error()}})
		return
	}
	src := s.deps.Reports.Source()
	tgt := s.deps.Reports.Target()
	c.JSON(http.StatusOK, gin.H{
		"selection":       s.deps.Reports.Selection(),
		"publish_enabled": s.deps.Publisher.Enabled(),
		"source": sourceReportView{
			Generation: src.Generation,
			State:      src.State,
			Entries:    entryViews(src.Entries),
			Rows:       src.Rows,
			Total:      src.Total.HHMM(),
			Error:      errorText(src.Err),
		},
		"target": targetReportView{
			Generation: tgt.Generation,
			State:      tgt.State,
			Entries:    targetViews(tgt.Entries),
			Total:      tgt.Total.HHMM(),
			Error:      errorText(tgt.Err),
		},
	})
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []string{err.Error()}})
			return
		}
	}

	sel := s.deps.Reports.Selection()
	if req.Date == "" {
		req.Date = sel.Date
	}
	day, err := timecalc.ParseDay(req.Date, s.deps.Location)
	if err != nil {
		fail(c, &apperr.FieldError{Field: "date", Err: err})
		return
	}
	if req.Rows == nil {
		req.Rows = s.deps.Reports.Source().Rows
	}

	res, err := s.deps.Publisher.Publish(c.Request.Context(), day, req.Rows, publish.Options{
		DefaultActivityID: sel.ActivityID,
		DryRun:            req.DryRun,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "rows": req.Rows})
}

func parseIDList(text string) ([]int64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(text, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, &apperr.FormatError{Input: part, Expect: "a comma separated list of ids"}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func filterWorkspaces(records []model.SourceRecord, ids []int64) []model.SourceRecord {
	keep := map[int64]bool{}
	for _, id := range ids {
		keep[id] = true
	}
	out := records[:0:0]
	for _, r := range records {
		if keep[r.WorkspaceID] {
			out = append(out, r)
		}
	}
	return out
}
