package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tunefile/apiserver/internal/services"
	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxBinaryBytes     = 64 << 20
	maxImageBytes      = 8 << 20

	formFieldFile    = "file"
	formFieldVehicle = "vehicle"
	formFieldOptions = "options"
	formFieldText    = "text"
	formFieldImage   = "image"
)

// FileHandler provides HTTP handlers for the file submission workflow.
type FileHandler struct {
	fileService *services.FileService
	userService *services.UserService
}

func NewFileHandler(fileService *services.FileService, userService *services.UserService) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		userService: userService,
	}
}

// FileRouter registers the customer-facing file routes.
func FileRouter(r chi.Router, fileService *services.FileService, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewFileHandler(fileService, userService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListFiles)
	r.Post("/", handler.SubmitFile)
	r.Route("/{fileID}", func(r chi.Router) {
		r.Get("/", handler.GetFile)
		r.Get("/download", handler.DownloadOriginal)
		r.Get("/download/modified", handler.DownloadModified)
		r.Post("/comments", handler.AddComment)
		r.Get("/comments/{commentID}/image", handler.DownloadCommentImage)
	})
}

// AdminFileRouter registers the admin workflow routes.
func AdminFileRouter(r chi.Router, fileService *services.FileService, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewFileHandler(fileService, userService)

	r.Use(authMiddleware, handler.requireStaff)
	r.Put("/{fileID}/status", handler.UpdateStatus)
	r.Post("/{fileID}/send", handler.SendToClient)
	r.With(handler.requireAdmin).Put("/{fileID}/assign", handler.AssignExpert)
}

func (h *FileHandler) SubmitFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	upload, err := formUpload(r.MultipartForm, formFieldFile, maxBinaryBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upload.Name == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}

	var vehicle types.VehicleInfo
	if raw := strings.TrimSpace(r.FormValue(formFieldVehicle)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vehicle); err != nil {
			writeError(w, http.StatusBadRequest, "invalid vehicle info")
			return
		}
	}

	var options types.TuningOptions
	if raw := strings.TrimSpace(r.FormValue(formFieldOptions)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			writeError(w, http.StatusBadRequest, "invalid options")
			return
		}
	}

	file, err := h.fileService.Submit(r.Context(), actor.ID, upload, vehicle, options)
	if err != nil {
		writeServiceError(w, err, "failed to submit file")
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := types.FileStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	items, total, err := h.fileService.ListForUser(r.Context(), actor, status, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list files")
		return
	}

	writeJSON(w, http.StatusOK, FileListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, err := h.fileService.GetForUser(r.Context(), fileID, actor)
	if err != nil {
		writeServiceError(w, err, "failed to fetch file")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) DownloadOriginal(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, h.fileService.OpenOriginal)
}

func (h *FileHandler) DownloadModified(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, h.fileService.OpenModified)
}

func (h *FileHandler) download(w http.ResponseWriter, r *http.Request, open func(ctx context.Context, fileID int, actor types.User) (io.ReadCloser, string, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, name, err := open(r.Context(), fileID, actor)
	if err != nil {
		writeServiceError(w, err, "failed to open file")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, reader); err != nil {
		// Headers are already out; nothing left to report to the client.
		return
	}
}

func (h *FileHandler) DownloadCommentImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commentID, err := parseIDParam(r, "commentID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, name, err := h.fileService.OpenCommentImage(r.Context(), fileID, commentID, actor)
	if err != nil {
		writeServiceError(w, err, "failed to open image")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, reader); err != nil {
		return
	}
}

func (h *FileHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	text := strings.TrimSpace(r.FormValue(formFieldText))
	image, err := formUpload(r.MultipartForm, formFieldImage, maxImageBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.fileService.AddComment(r.Context(), fileID, actor, text, image)
	if err != nil {
		writeServiceError(w, err, "failed to add comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *FileHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	file, err := h.fileService.Transition(r.Context(), fileID, types.FileStatus(req.Status), actor, req.Comment, req.Force)
	if err != nil {
		writeServiceError(w, err, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) SendToClient(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	upload, err := formUpload(r.MultipartForm, formFieldFile, maxBinaryBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	comment := strings.TrimSpace(r.FormValue(formFieldText))

	file, err := h.fileService.SendToClient(r.Context(), fileID, actor, upload, comment)
	if err != nil {
		writeServiceError(w, err, "failed to send file")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) AssignExpert(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDParam(r, "fileID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	file, err := h.fileService.Assign(r.Context(), fileID, req.ExpertID, actor)
	if err != nil {
		writeServiceError(w, err, "failed to assign expert")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// StatusUpdateRequest is the payload of the admin status endpoint.
type StatusUpdateRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Force   bool   `json:"force"`
}

// AssignRequest is the payload of the admin assignment endpoint.
type AssignRequest struct {
	ExpertID int `json:"expert_id"`
}

// FileListResponse is the paginated list response payload.
type FileListResponse struct {
	Items []types.EcuFile `json:"items"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Total int             `json:"total"`
}

func formUpload(form *multipart.Form, field string, limit int64) (services.Upload, error) {
	if form == nil {
		return services.Upload{}, errors.New("missing form data")
	}

	files := form.File[field]
	if len(files) == 0 {
		return services.Upload{}, nil
	}
	if len(files) > 1 {
		return services.Upload{}, errors.New("only one " + field + " is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return services.Upload{}, errors.New("failed to read upload")
	}

	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return services.Upload{}, err
	}

	return services.Upload{
		Name: fileHeader.Filename,
		Data: data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}

func (h *FileHandler) actor(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return types.User{}, false
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return types.User{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return types.User{}, false
	}
	return user, true
}

// requireStaff allows admins and experts through.
func (h *FileHandler) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.actor(w, r)
		if !ok {
			return
		}
		if !user.IsAdmin() && !user.IsExpert() {
			writeError(w, http.StatusForbidden, "staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin allows only admins through.
func (h *FileHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.actor(w, r)
		if !ok {
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
