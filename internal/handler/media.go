package handler

import (
	"net/http"

	"spectrum/internal/httputil"
)

// UploadMedia accepts a multipart upload. Form fields: "file" (the blob) and
// optional "category" (image/audio/file, default file).
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	category := r.FormValue("category")
	if category == "" {
		category = "file"
	}

	saved, err := h.media.Save(category, header.Filename, file)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, saved)
}

type base64UploadRequest struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// UploadMediaBase64 accepts a base64 (raw or data-URI) upload.
func (h *Handler) UploadMediaBase64(w http.ResponseWriter, r *http.Request) {
	var req base64UploadRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Data == "" {
		httputil.RespondError(w, http.StatusBadRequest, "data is required")
		return
	}
	if req.Category == "" {
		req.Category = "file"
	}

	saved, err := h.media.SaveBase64(req.Category, req.Filename, req.Data)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, saved)
}

// ServeMedia serves a stored blob.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	path, err := h.media.Resolve(r.PathValue("category"), r.PathValue("filename"))
	if err != nil {
		handleError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}
