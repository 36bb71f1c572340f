package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/notes"
)

// MaxListLimit caps the page size a client may ask for.
const MaxListLimit = 500

// NoteHandler serves the clinical note routes.
type NoteHandler struct {
	notes  *notes.Repository
	wiper  identity.Wiper
	logger *zap.Logger
}

func (h *NoteHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/notes", h.createNote)
	g.GET("/notes", h.listNotes)
	g.GET("/notes/:id", h.getNote)
	g.PATCH("/notes/:id", h.updateNote)
	g.DELETE("/notes/:id", h.deleteNote)
	g.POST("/notes/:id/sign", h.signNote)
	g.POST("/session/wipe", h.wipeSession)
}

type createResponse struct {
	ID string `json:"id"`
}

type listResponse struct {
	Notes   []notes.ClinicalNote `json:"notes"`
	Skipped []string             `json:"skipped,omitempty"`
}

type signRequest struct {
	SignatureHash string `json:"signatureHash"`
}

func (h *NoteHandler) createNote(c echo.Context) error {
	var in notes.NoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := h.notes.Create(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, createResponse{ID: id})
}

func (h *NoteHandler) listNotes(c echo.Context) error {
	opts := notes.ListOptions{PatientID: c.QueryParam("patient_id")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > MaxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 0 and "+strconv.Itoa(MaxListLimit))
		}
		opts.Limit = limit
	}

	batch, err := h.notes.List(c.Request().Context(), opts)
	if err != nil {
		return h.fail(c, err)
	}

	resp := listResponse{Notes: batch.Notes}
	if resp.Notes == nil {
		resp.Notes = []notes.ClinicalNote{}
	}
	for _, f := range batch.Failures {
		resp.Skipped = append(resp.Skipped, f.RecordID)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *NoteHandler) getNote(c echo.Context) error {
	note, err := h.notes.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if note == nil {
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	}
	return c.JSON(http.StatusOK, note)
}

func (h *NoteHandler) updateNote(c echo.Context) error {
	var patch notes.NotePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.notes.Update(c.Request().Context(), c.Param("id"), patch); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NoteHandler) signNote(c echo.Context) error {
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.notes.Sign(c.Request().Context(), c.Param("id"), req.SignatureHash); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NoteHandler) deleteNote(c echo.Context) error {
	if err := h.notes.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// wipeSession clears every PHI cache of this instance and, through the
// wipe broadcast, of its peers.
func (h *NoteHandler) wipeSession(c echo.Context) error {
	h.wiper.ClearAll()
	return c.NoContent(http.StatusNoContent)
}

func (h *NoteHandler) fail(c echo.Context, err error) error {
	he := httpError(err)
	if he.Code >= http.StatusInternalServerError {
		h.logger.Error("note operation failed",
			zap.String("route", c.Path()),
			zap.String("id", c.Param("id")),
			zap.Error(err),
		)
	}
	return he
}
