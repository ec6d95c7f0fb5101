// History HTTP handlers.
//
//   - GET    /history              (paginated, weak ETag)
//   - DELETE /history              (clear)
//   - GET    /history/export.csv   (CSV download)
//   - POST   /sync/history         (merge records from another device)
package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// ListHistoryResponse wraps a page of scan records, newest first.
type ListHistoryResponse struct {
	Records    []domain.ScanRecord `json:"records"`
	Pagination Pagination          `json:"pagination"`
}

// ClearHistoryResponse reports how many records were removed.
type ClearHistoryResponse struct {
	Deleted int64 `json:"deleted" example:"12"`
}

// SyncHistoryRequest carries records exported by another device. Legacy
// records with "isSafe"/"dateScanned" fields are accepted.
type SyncHistoryRequest struct {
	Records []domain.ScanRecord `json:"records"`
}

// SyncHistoryResponse reports how many records were new.
type SyncHistoryResponse struct {
	Inserted int64 `json:"inserted" example:"3"`
}

// ListHistory godoc
// @ID          listHistory
// @Summary     List scan history (paginated)
// @Description Returns a page of the caller's scans, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        History
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"                     example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"history:abc\")
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListHistoryResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /history [get]
func (h *Handlers) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.historySvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"history:%s:%d:%d:%d.%d"`, uid, count, ts, page, pageSize)
		if notModified(c, etag) {
			return
		}
	}

	items, total, err := h.historySvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListHistoryResponse{
		Records:    items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ClearHistory godoc
// @ID          clearHistory
// @Summary     Clear scan history
// @Tags        History
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Success     200 {object} handlers.ClearHistoryResponse
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /history [delete]
func (h *Handlers) ClearHistory(c *gin.Context) {
	n, err := h.historySvc.Clear(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ClearHistoryResponse{Deleted: n})
}

// ExportHistoryCSV godoc
// @ID          exportHistoryCSV
// @Summary     Export scan history as CSV
// @Description Columns: Barcode, Product, Date (RFC 3339, UTC), Safe (Yes, No or Unknown). Newest first.
// @Tags        History
// @Produce     text/csv
// @Param       X-User-ID header string false "User ID" example(user123)
// @Success     200 {string} string "CSV file"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /history/export.csv [get]
func (h *Handlers) ExportHistoryCSV(c *gin.Context) {
	// Buffered so that a failure mid-export still yields a JSON error.
	var buf bytes.Buffer
	if err := h.historySvc.ExportCSV(c.Request.Context(), userID(c), &buf); err != nil {
		failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="scan_history.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// SyncHistory godoc
// @ID          syncHistory
// @Summary     Merge history from another device
// @Description Inserts records whose id is not yet stored; existing records are left unchanged.
// @Tags        Sync
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header string false "User ID"         example(user123)
// @Param       Idempotency-Key  header string false "Idempotency key" example(sync-01)
// @Param       body             body   handlers.SyncHistoryRequest true "Records"
// @Success     200 {object} handlers.SyncHistoryResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/history [post]
func (h *Handlers) SyncHistory(c *gin.Context) {
	if h.replayStored(c) {
		return
	}
	var req SyncHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	n, err := h.historySvc.Merge(c.Request.Context(), userID(c), req.Records)
	if err != nil {
		failErr(c, err)
		return
	}
	h.respondStored(c, http.StatusOK, SyncHistoryResponse{Inserted: n})
}
