package httpapi

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/service"
)

// productForm multipart-форма товара; image передаётся отдельным файлом
type productForm struct {
	Name        string `form:"name" binding:"required"`
	Description string `form:"description"`
	Price       string `form:"price" binding:"required"`
	Stock       int64  `form:"stock" binding:"gte=0"`
}

type productView struct {
	domain.Product
	InStock bool `json:"inStock"`
}

func viewProduct(p domain.Product) productView {
	return productView{Product: p, InStock: p.InStock()}
}

func (f productForm) input() (service.ProductInput, bool) {
	price, err := decimal.NewFromString(f.Price)
	if err != nil {
		return service.ProductInput{}, false
	}
	return service.ProductInput{Name: f.Name, Description: f.Description, Price: price, Stock: f.Stock}, true
}

// imageUpload nil, если файл не передан; вызывающий закрывает файл
func imageUpload(c *gin.Context) (*service.ImageUpload, multipart.File, error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &service.ImageUpload{Filename: fh.Filename, Body: f}, f, nil
}

// @Summary Create product
// @Tags products
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Name"
// @Param description formData string false "Description"
// @Param price formData string true "Price"
// @Param stock formData int true "Stock"
// @Param image formData file true "Image"
// @Success 201 {object} productView
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /product [post]
func (s *Server) createProduct(c *gin.Context) {
	var form productForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, "name, price and a non-negative stock are required")
		return
	}
	in, ok := form.input()
	if !ok {
		badRequest(c, "invalid price")
		return
	}
	img, file, err := imageUpload(c)
	if err != nil {
		badRequest(c, "invalid image upload")
		return
	}
	if file != nil {
		defer file.Close()
	}
	p, err := s.products.Create(c.Request.Context(), currentUser(c), in, img)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewProduct(*p))
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} productView
// @Failure 404 {object} errorResponse
// @Router /product/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	p, err := s.products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProduct(*p))
}

// @Summary Update product
// @Tags products
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Product ID"
// @Param name formData string true "Name"
// @Param description formData string false "Description"
// @Param price formData string true "Price"
// @Param stock formData int true "Stock"
// @Param image formData file false "Image"
// @Success 200 {object} productView
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /product/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	var form productForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, "name, price and a non-negative stock are required")
		return
	}
	in, ok := form.input()
	if !ok {
		badRequest(c, "invalid price")
		return
	}
	img, file, err := imageUpload(c)
	if err != nil {
		badRequest(c, "invalid image upload")
		return
	}
	if file != nil {
		defer file.Close()
	}
	p, err := s.products.Update(c.Request.Context(), currentUser(c), c.Param("id"), in, img)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProduct(*p))
}

// @Summary Delete product
// @Tags products
// @Param id path string true "Product ID"
// @Success 204
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /product/{id} [delete]
func (s *Server) deleteProduct(c *gin.Context) {
	if err := s.products.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List products
// @Tags products
// @Produce json
// @Success 200 {array} productView
// @Router /product [get]
func (s *Server) listProducts(c *gin.Context) {
	list, err := s.products.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]productView, 0, len(list))
	for _, p := range list {
		out = append(out, viewProduct(p))
	}
	c.JSON(http.StatusOK, out)
}
