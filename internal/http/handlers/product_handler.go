package handlers

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/repo"
	"github.com/tbourn/go-routine-backend/internal/utils"
)

// ProductsResponse is a page of the catalog.
type ProductsResponse struct {
	Success bool             `json:"success" example:"true"`
	Data    []domain.Product `json:"data"`
	Count   int              `json:"count" example:"20"`
}

// UploadProductsResponse reports how many products were written.
type UploadProductsResponse struct {
	Success  bool `json:"success" example:"true"`
	Upserted int  `json:"upserted" example:"2"`
}

// ListProducts godoc
// @ID          listProducts
// @Summary     List catalog products
// @Description Products ordered by discount rate, then title. Supports a weak ETag via If-None-Match.
// @Tags        Products
// @Produce     json
// @Param       limit       query  int     false  "Page size"               default(50)  minimum(1)  maximum(1000)
// @Param       offset      query  int     false  "Items to skip"           default(0)
// @Param       categories  query  string  false  "Comma separated categories"
// @Param       minPrice    query  number  false  "Lowest current price"
// @Param       maxPrice    query  number  false  "Highest current price (0 = no bound)"
// @Success     200  {object}  handlers.ProductsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     503  {object}  handlers.ErrorResponse  "Catalog unavailable"
// @Router      /products [get]
func (h *Handlers) ListProducts(c *gin.Context) {
	if h.products == nil {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "Not found")
		return
	}
	ctx := c.Request.Context()

	q := repo.ProductQuery{
		Limit:      utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 50), 1, repo.MaxProductLimit),
		Offset:     utils.ClampInt(utils.AtoiDefault(c.Query("offset"), 0), 0, 1<<31-1),
		Categories: utils.SplitCSV(c.Query("categories")),
		MinPrice:   utils.FloatDefault(c.Query("minPrice"), 0),
		MaxPrice:   utils.FloatDefault(c.Query("maxPrice"), 0),
	}

	if count, latest, err := h.products.Stats(ctx); err == nil {
		etag := productsETag(c.Request.URL.RawQuery, count, latest)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.products.List(ctx, q)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ProductsResponse{Success: true, Data: items, Count: len(items)})
}

func productsETag(query string, count int64, latest *time.Time) string {
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	hsh := fnv.New32a()
	_, _ = hsh.Write([]byte(query))
	return fmt.Sprintf(`W/"products:%d:%d:%x"`, count, ts, hsh.Sum32())
}

// UploadProducts godoc
// @ID          uploadProducts
// @Summary     Upload catalog products
// @Description Upserts products by url. Stored catalog snapshots are invalidated so the next generation sees the new data.
// @Tags        Products
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.UploadProductsRequest  true  "Products"
// @Success     200  {object}  handlers.UploadProductsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Catalog unavailable"
// @Router      /products [post]
func (h *Handlers) UploadProducts(c *gin.Context) {
	if h.products == nil {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "Not found")
		return
	}
	var req UploadProductsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	n, err := h.products.Upsert(c.Request.Context(), req.products())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UploadProductsResponse{Success: true, Upserted: n})
}
