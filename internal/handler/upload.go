package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/internal/service"
	"github.com/snapsell/api/pkg/response"
)

const maxUploadSize = 25 * 1024 * 1024 // 25MB

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Image handles POST /api/photo/uploads
// @Summary      Upload input image
// @Description  Stage a product photo or selfie for later processing
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Image file (JPEG, PNG, WebP; max 25MB)"
// @Success      201 {object} model.UploadImageResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/photo/uploads [post]
func (h *UploadHandler) Image(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 25MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if _, ok := service.ImageTypes[contentType]; !ok {
		return response.ValidationError(c, "Invalid file type. Supported: JPEG, PNG, WebP", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.UploadImage(c.UserContext(), middleware.GetUserID(c), contentType, f, file.Size)
	if err != nil {
		return response.ServiceError(c, fmt.Sprintf("Upload failed: %v", err))
	}

	return response.Created(c, result)
}

// DeleteImage handles DELETE /api/photo/uploads/:imageId
func (h *UploadHandler) DeleteImage(c *fiber.Ctx) error {
	imageID := c.Params("imageId")
	if err := h.validator.Var(imageID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "Image ID must be a UUID", nil)
	}

	if err := h.service.DeleteImage(c.UserContext(), middleware.GetUserID(c), imageID); err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
