package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// GenerateRoutineRequest is the body of POST /routine/generate.
type GenerateRoutineRequest struct {
	// Client generated session id; progress is published under it.
	SessionID         string             `json:"sessionId"         validate:"required,sessionid"   example:"b0c4e8f2-3d1a-4c55-9f7e-0a2b3c4d5e6f"`
	SkinType          string             `json:"skinType"          validate:"notblank,max=128"     example:"Oily"`
	SkinConcern       string             `json:"skinConcern"       validate:"notblank,max=128"     example:"Acne"`
	CommitmentLevel   string             `json:"commitmentLevel"   validate:"max=64"               example:"Minimal"`
	PreferredProducts string             `json:"preferredProducts" validate:"max=512"              example:"fragrance-free"`
	Limit             int                `json:"limit,omitempty"   validate:"omitempty,min=1,max=1000" example:"200"`
	Categories        []string           `json:"categories,omitempty" validate:"omitempty,max=20,dive,notblank,max=128"`
	PriceRange        *domain.PriceRange `json:"priceRange,omitempty"`
}

// Key returns the routine key of the request.
func (r GenerateRoutineRequest) Key() domain.RoutineKey {
	return domain.RoutineKey{SkinType: r.SkinType, SkinConcern: r.SkinConcern}.Normalize()
}

// Params returns the generation parameters of the request.
func (r GenerateRoutineRequest) Params() domain.GenerationParams {
	return domain.GenerationParams{
		CommitmentLevel:   strings.TrimSpace(r.CommitmentLevel),
		PreferredProducts: strings.TrimSpace(r.PreferredProducts),
		Limit:             r.Limit,
		Categories:        r.Categories,
		PriceRange:        r.PriceRange,
	}
}

// ProductInput is one catalog entry of an upload.
type ProductInput struct {
	URL           string   `json:"url"           validate:"required,url,max=1024"`
	Title         string   `json:"title"         validate:"notblank,max=512"`
	Currency      string   `json:"currency"      validate:"omitempty,max=8"`
	CurrentPrice  float64  `json:"currentPrice"  validate:"gte=0"`
	OriginalPrice float64  `json:"originalPrice" validate:"gte=0"`
	DiscountRate  float64  `json:"discountRate"  validate:"gte=0,lte=100"`
	Category      string   `json:"category"      validate:"max=128"`
	ReviewsCount  int      `json:"reviewsCount"  validate:"gte=0"`
	Stars         *float64 `json:"stars"         validate:"omitempty,gte=0,lte=5"`
	Image         string   `json:"image"         validate:"omitempty,max=1024"`
	Description   string   `json:"description"`
}

// UploadProductsRequest is the body of POST /products.
type UploadProductsRequest struct {
	Products []ProductInput `json:"products" validate:"required,min=1,max=1000,dive"`
}

func (r UploadProductsRequest) products() []domain.Product {
	out := make([]domain.Product, 0, len(r.Products))
	for _, p := range r.Products {
		out = append(out, domain.Product{
			URL:           p.URL,
			Title:         p.Title,
			Currency:      p.Currency,
			CurrentPrice:  p.CurrentPrice,
			OriginalPrice: p.OriginalPrice,
			DiscountRate:  p.DiscountRate,
			Category:      p.Category,
			ReviewsCount:  p.ReviewsCount,
			Stars:         p.Stars,
			Image:         p.Image,
			Description:   p.Description,
		})
	}
	return out
}

// newValidator returns the request validator: json field names in errors,
// plus "notblank" and "sessionid" tags and the price range rule.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New(validatorv10.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("sessionid", func(fl validatorv10.FieldLevel) bool {
		return domain.ValidSessionID(fl.Field().String())
	})
	v.RegisterStructValidation(priceRangeValidation, domain.PriceRange{})
	return v
}

func priceRangeValidation(sl validatorv10.StructLevel) {
	pr := sl.Current().Interface().(domain.PriceRange)
	if pr.Min < 0 {
		sl.ReportError(pr.Min, "min", "Min", "gte", "0")
	}
	if pr.Max > 0 && pr.Max < pr.Min {
		sl.ReportError(pr.Max, "max", "Max", "gtefield", "min")
	}
}

var errEmptyBody = errors.New("empty body")

// bindJSON decodes the body into dst and validates it. It writes the 400
// response itself and reports whether the handler may continue.
func (h *Handlers) bindJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidJSON, "Invalid JSON in request body")
		return false
	}
	dec := json.NewDecoder(c.Request.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyBody
		}
		_ = c.Error(err)
		fail(c, http.StatusBadRequest, ErrCodeInvalidJSON, "Invalid JSON in request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "Validation failed", validationDetails(err)...)
		return false
	}
	return true
}

// validationDetails renders one human message per failed field.
func validationDetails(err error) []string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ve))
	for _, fe := range ve {
		out = append(out, fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validatorv10.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "sessionid":
		return field + " must be 8 to 128 letters, digits, '-' or '_'"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s items", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}

// fieldPath drops the root struct name: "GenerateRoutineRequest.skinType"
// becomes "skinType".
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
