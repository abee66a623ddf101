package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vendkit/kioskd/pkg/models"
)

// collectionResponse is a collection with its media resolved to a local URL.
type collectionResponse struct {
	models.Collection
	ImageURL string `json:"image_url,omitempty"`
}

type variantResponse struct {
	models.Variant
	ImageURL string `json:"image_url,omitempty"`
}

type productResponse struct {
	models.Product
	Variants []variantResponse `json:"variants"`
}

func (s *Server) handleListCollections(c *gin.Context) {
	collections, err := s.store.ListCollections(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := make([]collectionResponse, 0, len(collections))
	for _, coll := range collections {
		resp = append(resp, collectionResponse{
			Collection: coll,
			ImageURL:   s.mediaURL(c.Request.Context(), coll.MediaID),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCollection(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection id"})
		return
	}
	coll, err := s.store.GetCollection(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collectionResponse{
		Collection: *coll,
		ImageURL:   s.mediaURL(c.Request.Context(), coll.MediaID),
	})
}

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.ListProducts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (s *Server) handleGetProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	ctx := c.Request.Context()
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	variants, err := s.store.GetVariantsByProduct(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := productResponse{Product: *product, Variants: make([]variantResponse, 0, len(variants))}
	for _, v := range variants {
		if v.Deleted {
			continue
		}
		resp.Variants = append(resp.Variants, variantResponse{
			Variant:  v,
			ImageURL: s.mediaURL(ctx, v.MediaID),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// mediaURL resolves a media id to the local URL the UI can fetch. Empty when
// the entity has no media or the row is gone.
func (s *Server) mediaURL(ctx context.Context, mediaID int64) string {
	if mediaID == 0 {
		return ""
	}
	media, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		return ""
	}
	return s.planCfg.LocalImageURLPrefix + media.Filename
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
