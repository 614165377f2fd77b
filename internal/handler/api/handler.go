package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FinStore/internal/domain/models"
	"FinStore/internal/replay"
	svccache "FinStore/internal/service/cache"
	"FinStore/internal/snapshot"
	"FinStore/internal/store"
	"FinStore/internal/usecase"
	xhttp "FinStore/pkg/http"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/util"
)

// ArtifactSource serves the latest optimized artifacts.
type ArtifactSource interface {
	Artifact(ctx context.Context, name string) (*models.OptimizedArtifact, error)
}

// SnapshotInspector is the read side of the snapshot manager.
type SnapshotInspector interface {
	List(ctx context.Context) ([]time.Time, error)
	ReadManifest(ctx context.Context, date time.Time) (*models.Manifest, error)
	Load(ctx context.Context, date time.Time) (*models.EODSnapshot, error)
}

// Handler is the read-only inspection API. All prediction reads go through one gateway, so a
// server started in replay mode only ever serves its snapshot. Artifacts are derived from live
// state and are refused in replay mode.
type Handler struct {
	logger    *applogger.Logger
	gw        replay.DataAccess
	cache     *svccache.TTLCache
	artifacts ArtifactSource
	snapshots SnapshotInspector
}

func NewHandler(l *applogger.Logger, gw replay.DataAccess, c *svccache.TTLCache, artifacts ArtifactSource, snapshots SnapshotInspector) *Handler {
	if l == nil {
		l = applogger.Nop()
	}
	return &Handler{logger: l, gw: gw, cache: c, artifacts: artifacts, snapshots: snapshots}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/predictions", h.Predictions)
	g.GET("/artifacts/:name", h.Artifact)
	g.GET("/snapshots", h.Snapshots)
	g.GET("/snapshots/:date", h.Snapshot)
	g.GET("/replay", h.Replay)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "context": h.gw.Context().String()})
}

// PredictionsResponse is the body of GET /api/predictions.
type PredictionsResponse struct {
	Context   string                    `json:"context"`
	Resource  string                    `json:"resource"`
	Version   int64                     `json:"version"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Total     int                       `json:"total"`
	Rows      []models.PredictionRecord `json:"rows"`
}

func (h *Handler) Predictions(c echo.Context) error {
	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := util.SplitCSV(req.Symbols)
	sort.Strings(symbols)

	rc := h.gw.Context()
	key := svccache.Key(rc, "predictions", req.SortBy, strconv.Itoa(req.Limit), strings.Join(symbols, ","))
	v, err := h.cache.GetOrLoad(key, func() (any, error) {
		return h.loadPredictions(c.Request().Context(), rc, symbols, req)
	})
	if err != nil {
		h.logger.Error("predictions read failed", applogger.String("context", rc.String()), applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *Handler) loadPredictions(ctx context.Context, rc replay.Context, symbols []string, req *models.PredictionsRequest) (*PredictionsResponse, error) {
	state, err := h.gw.Predictions(ctx)
	if errors.Is(err, store.ErrAbsent) {
		state = models.NewRollingState("")
	} else if err != nil {
		return nil, err
	}

	rows := make([]models.PredictionRecord, 0, len(state.Records))
	if len(symbols) > 0 {
		for _, s := range symbols {
			if r, ok := state.Records[s]; ok {
				rows = append(rows, r)
			}
		}
	} else {
		for _, r := range state.Records {
			rows = append(rows, r)
		}
	}
	sortRecords(rows, req.SortBy)

	total := len(rows)
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return &PredictionsResponse{
		Context:   rc.String(),
		Resource:  state.Resource,
		Version:   state.Version,
		UpdatedAt: state.UpdatedAt,
		Total:     total,
		Rows:      rows,
	}, nil
}

func sortRecords(rows []models.PredictionRecord, by string) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch by {
		case "score":
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		case "confidence":
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
		}
		return a.Symbol < b.Symbol
	})
}

func (h *Handler) Artifact(c echo.Context) error {
	if rc := h.gw.Context(); rc.IsReplay() {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("live artifacts unavailable in %s", rc.String()))
	}
	req := &models.ArtifactRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.artifacts.Artifact(c.Request().Context(), req.Name)
	if errors.Is(err, usecase.ErrArtifactNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("artifact %s not found", req.Name))
	}
	if err != nil {
		h.logger.Error("artifact read failed", applogger.String("artifact", req.Name), applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, a)
}

func (h *Handler) Snapshots(c echo.Context) error {
	dates, err := h.snapshots.List(c.Request().Context())
	if err != nil {
		h.logger.Error("snapshot list failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = util.FormatDate(d)
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

// SnapshotResponse reports a snapshot manifest and whether it is fit for replay.
type SnapshotResponse struct {
	Manifest   *models.Manifest     `json:"manifest"`
	Valid      bool                 `json:"valid"`
	Violations []snapshot.Violation `json:"violations,omitempty"`
	LeakDates  []string             `json:"leak_dates,omitempty"`
}

func (h *Handler) Snapshot(c echo.Context) error {
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, err := util.ParseDate(req.Date)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid date %q", req.Date))
	}

	ctx := c.Request().Context()
	man, err := h.snapshots.ReadManifest(ctx, date)
	if errors.Is(err, snapshot.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no snapshot for %s", req.Date))
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	resp := &SnapshotResponse{Manifest: man, Valid: true}
	_, err = h.snapshots.Load(ctx, date)
	var leak *snapshot.LeakageError
	switch {
	case err == nil:
	case errors.As(err, &leak):
		resp.Valid = false
		resp.Violations = leak.Violations
		resp.LeakDates = leak.Dates()
	case errors.Is(err, snapshot.ErrCorrupt):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableErrorf("snapshot %s is corrupt", req.Date).WithError(err))
	default:
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, resp)
}

// ReplayResponse describes the context the server was started with.
type ReplayResponse struct {
	Mode string `json:"mode"`
	AsOf string `json:"as_of,omitempty"`
}

func (h *Handler) Replay(c echo.Context) error {
	rc := h.gw.Context()
	resp := ReplayResponse{Mode: string(rc.Mode())}
	if rc.IsReplay() {
		resp.AsOf = util.FormatDate(rc.AsOf())
	}
	return xhttp.SuccessResponse(c, resp)
}
