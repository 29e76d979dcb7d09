package usecase

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type UploadSigner interface {
	PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type UploadRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// UploadTarget tells the client where and how to PUT the audio file.
type UploadTarget struct {
	URL        string            `json:"uploadUrl"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	ObjectPath string            `json:"storageObjectPath"`
}

const maxFileNameLen = 128

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	unsafeCharsRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

type UploadUseCase struct {
	Signer   UploadSigner
	MaxBytes int64
	Expiry   time.Duration
	Now      func() time.Time
}

func NewUploadUseCase(signer UploadSigner, maxBytes int64, expiry time.Duration) *UploadUseCase {
	return &UploadUseCase{
		Signer:   signer,
		MaxBytes: maxBytes,
		Expiry:   expiry,
		Now:      time.Now,
	}
}

// CreateSignedUpload validates the file metadata and returns a presigned PUT
// for {owner}/audio/{hex uuid}_{safe name}.
func (u *UploadUseCase) CreateSignedUpload(ctx context.Context, owner uuid.UUID, req UploadRequest) (*UploadTarget, error) {
	name, err := SanitizeFileName(req.FileName)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(req.MimeType)), "audio/") {
		return nil, entity.NewValidationError("UNSUPPORTED_MEDIA_TYPE", "only audio uploads are supported")
	}
	if req.FileSize <= 0 {
		return nil, entity.NewValidationError("INVALID_FILE_SIZE", "fileSize must be greater than 0")
	}
	if req.FileSize > u.MaxBytes {
		verr := entity.NewValidationError("UPLOAD_LIMIT_EXCEEDED", fmt.Sprintf("fileSize exceeds %d bytes", u.MaxBytes))
		verr.TooLarge = true
		return nil, verr
	}

	id := uuid.New()
	objectPath := fmt.Sprintf("%s/audio/%s_%s", owner, strings.ReplaceAll(id.String(), "-", ""), name)

	signed, err := u.Signer.PresignedPutURL(ctx, objectPath, u.Expiry)
	if err != nil {
		log.Error().Err(err).Str("object_path", objectPath).Msg("failed to sign upload")
		return nil, fmt.Errorf("%w: sign upload: %v", entity.ErrUpstreamUnavailable, err)
	}

	return &UploadTarget{
		URL:        signed,
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": req.MimeType},
		ExpiresAt:  u.Now().UTC().Add(u.Expiry),
		ObjectPath: objectPath,
	}, nil
}

// SanitizeFileName keeps the base name, replaces whitespace runs with "_" and
// any other unsafe byte with "-".
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = whitespaceRe.ReplaceAllString(name, "_")
	name = unsafeCharsRe.ReplaceAllString(name, "-")
	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}
	if name == "" || name == "/" || strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return "", entity.NewValidationError("INVALID_FILE_NAME", "file name is not valid")
	}
	return name, nil
}
