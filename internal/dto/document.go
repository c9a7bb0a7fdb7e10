package dto

import "github.com/noah-isme/immigration-dms-api/internal/models"

// UploadDocumentRequest contains metadata submitted alongside a file upload.
type UploadDocumentRequest struct {
	DocumentType models.DocumentType `form:"documentType" json:"documentType"`
	Replaces     *string             `form:"replaces" json:"replaces"`
}

// DocumentDownloadResponse enriches metadata with a signed download URL.
type DocumentDownloadResponse struct {
	models.Document
	DownloadURL string `json:"downloadUrl"`
}
