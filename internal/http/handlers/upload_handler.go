// Upload handler.
//
// POST /uploads accepts one multipart "file" part, sniffs and stores it, and
// returns the public URL a message can carry as file_url.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/http/middleware"
)

// Upload godoc
// @ID          upload
// @Summary     Upload a file for a message or avatar
// @Description Images, video, audio, PDF and Word documents; the content is sniffed and must match the extension.
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file  formData  file  true  "File"
// @Success     201   {object}  storage.Blob
// @Failure     400   {object}  handlers.ErrorResponse  "Missing, empty or disallowed file"
// @Failure     413   {object}  handlers.ErrorResponse  "File too large"
// @Router      /uploads [post]
func (h *Handlers) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeUploadFailed, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeUploadFailed, "cannot read upload")
		return
	}
	defer f.Close()

	blob, err := h.blobs.Save(c.Request.Context(), fh.Filename, f)
	if err != nil {
		failErr(c, err, ErrCodeUploadFailed)
		return
	}
	middleware.LoggerFrom(c).Info().
		Str("file_url", blob.URL).
		Str("mime_type", blob.MIMEType).
		Int64("file_size", blob.Size).
		Msg("upload stored")
	ok(c, http.StatusCreated, blob)
}
