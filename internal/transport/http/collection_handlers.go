package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

// CollectionHandlers exposes the data service over REST.
type CollectionHandlers struct {
	ds  backend.DataService
	log *zerolog.Logger
}

// NewCollectionHandlers creates a new collection handlers instance.
func NewCollectionHandlers(ds backend.DataService, logger *zerolog.Logger) *CollectionHandlers {
	return &CollectionHandlers{ds: ds, log: logger}
}

// List handles collection queries.
// GET /api/collections/:collection?order=created_at&desc=true&limit=N&eq.<field>=<v>
func (h *CollectionHandlers) List(c *gin.Context) {
	collection := c.Param("collection")
	if !h.allowed(c, opRead, collection) {
		return
	}

	q, err := proto.DecodeQuery(c.Request.URL.Query())
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	records, err := h.ds.Query(c.Request.Context(), collection, q)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if records == nil {
		records = []backend.Record{}
	}
	c.JSON(http.StatusOK, proto.ListResponse{Records: records})
}

// Create handles inserts.
// POST /api/collections/:collection
func (h *CollectionHandlers) Create(c *gin.Context) {
	collection := c.Param("collection")
	if !h.allowed(c, opInsert, collection) {
		return
	}

	rec, ok := h.bindRecord(c)
	if !ok {
		return
	}
	if collection == backend.CollectionMessages {
		claims, _ := claimsFrom(c)
		if err := bindAuthor(claims, rec); err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	created, err := h.ds.Insert(c.Request.Context(), collection, rec)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Debug().Str("collection", collection).Str("id", created.ID()).Msg("record inserted")
	c.JSON(http.StatusCreated, proto.RecordResponse{Record: created})
}

// Update handles partial updates.
// PATCH /api/collections/:collection/:id
func (h *CollectionHandlers) Update(c *gin.Context) {
	collection := c.Param("collection")
	if !h.allowed(c, opUpdate, collection) {
		return
	}

	fields, ok := h.bindRecord(c)
	if !ok {
		return
	}
	if err := h.ds.Update(c.Request.Context(), collection, c.Param("id"), fields); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles deletes.
// DELETE /api/collections/:collection/:id
func (h *CollectionHandlers) Delete(c *gin.Context) {
	collection := c.Param("collection")
	if !h.allowed(c, opDelete, collection) {
		return
	}

	if err := h.ds.Delete(c.Request.Context(), collection, c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CollectionHandlers) allowed(c *gin.Context, op operation, collection string) bool {
	claims, ok := claimsFrom(c)
	if !ok {
		h.log.Error().Msg("claims not found in context")
		abortWithError(c, http.StatusUnauthorized, "unauthorized", backend.ErrCodeUnauthorized)
		return false
	}
	if err := authorize(claims, op, collection); err != nil {
		h.log.Debug().Err(err).Str("user_id", claims.UserID).Msg("request denied")
		writeError(c, h.log, err)
		return false
	}
	return true
}

func (h *CollectionHandlers) bindRecord(c *gin.Context) (backend.Record, bool) {
	var rec backend.Record
	if err := c.ShouldBindJSON(&rec); err != nil || rec == nil {
		h.log.Debug().Err(err).Msg("invalid record body")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: backend.ErrCodeInvalidRecord})
		return nil, false
	}
	return rec, true
}
