package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// InlineDownloadLimitBytes is the boundary below which Download returns the
// object's bytes directly rather than a presigned URL.
const InlineDownloadLimitBytes = 10 << 20 // 10 MiB

// DefaultPresignTTL is used when a caller does not override it.
const DefaultPresignTTL = 15 * time.Minute

// FileObject describes one entry returned by List.
type FileObject struct {
	Path         string
	SizeBytes    int64
	LastModified time.Time
}

// DownloadResult holds either inline bytes or a presigned URL, never both.
type DownloadResult struct {
	Inline       []byte
	PresignedURL string
	SizeBytes    int64
}

// FileService implements the File I/O boundary: every relative path is
// resolved under the session's own workspace prefix, so one session can
// never read or write another's objects.
type FileService struct {
	sessions   repository.SessionRepository
	objects    storage.ObjectStore
	presignTTL time.Duration
}

// NewFileService constructs a FileService. presignTTL defaults to 15
// minutes when zero.
func NewFileService(sessions repository.SessionRepository, objects storage.ObjectStore, presignTTL time.Duration) *FileService {
	if presignTTL <= 0 {
		presignTTL = DefaultPresignTTL
	}
	return &FileService{sessions: sessions, objects: objects, presignTTL: presignTTL}
}

// Upload writes data at relPath under the session's workspace.
func (f *FileService) Upload(ctx context.Context, sessionID, relPath string, data io.Reader, size int64, contentType string) error {
	key, err := f.resolveKey(ctx, sessionID, relPath)
	if err != nil {
		return err
	}
	if err := f.objects.Upload(ctx, key, data, size, contentType); err != nil {
		return apperrors.StorageUnavailable(err)
	}
	return nil
}

// Download returns the object at relPath. Objects at or under
// InlineDownloadLimitBytes come back as bytes; larger objects come back as
// a presigned URL the caller redirects to.
func (f *FileService) Download(ctx context.Context, sessionID, relPath string) (*DownloadResult, error) {
	key, err := f.resolveKey(ctx, sessionID, relPath)
	if err != nil {
		return nil, err
	}

	reader, size, err := f.objects.Download(ctx, key)
	if err != nil {
		return nil, apperrors.StorageNotFound(relPath)
	}
	defer reader.Close()

	if size > InlineDownloadLimitBytes {
		url, err := f.objects.Presign(ctx, key, f.presignTTL)
		if err != nil {
			return nil, apperrors.StorageUnavailable(err)
		}
		return &DownloadResult{PresignedURL: url, SizeBytes: size}, nil
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	return &DownloadResult{Inline: body, SizeBytes: size}, nil
}

// List returns the objects under relPrefix within the session's workspace.
// An empty relPrefix lists the whole workspace.
func (f *FileService) List(ctx context.Context, sessionID, relPrefix string) ([]FileObject, error) {
	prefixKey, err := f.resolveWorkspacePrefix(ctx, sessionID, relPrefix)
	if err != nil {
		return nil, err
	}

	objs, err := f.objects.List(ctx, prefixKey, 0)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	root, err := f.workspaceRoot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]FileObject, 0, len(objs))
	for _, o := range objs {
		out = append(out, FileObject{
			Path:         strings.TrimPrefix(o.Key, root),
			SizeBytes:    o.SizeBytes,
			LastModified: o.LastModified,
		})
	}
	return out, nil
}

// Delete removes the object at relPath from the session's workspace.
func (f *FileService) Delete(ctx context.Context, sessionID, relPath string) error {
	key, err := f.resolveKey(ctx, sessionID, relPath)
	if err != nil {
		return err
	}
	if err := f.objects.DeletePrefix(ctx, key); err != nil {
		return apperrors.StorageUnavailable(err)
	}
	return nil
}

// resolveKey validates relPath and joins it onto the session's workspace
// prefix, rejecting absolute paths and ".." traversal.
func (f *FileService) resolveKey(ctx context.Context, sessionID, relPath string) (string, error) {
	if err := domain.ValidateArtifactPath(relPath); err != nil {
		return "", apperrors.FileValidation(err.Error())
	}
	root, err := f.workspaceRoot(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return root + relPath, nil
}

// resolveWorkspacePrefix validates an optional relative prefix (empty is
// allowed for a full workspace listing) and joins it onto the workspace
// root.
func (f *FileService) resolveWorkspacePrefix(ctx context.Context, sessionID, relPrefix string) (string, error) {
	if relPrefix == "" {
		return f.workspaceRoot(ctx, sessionID)
	}
	return f.resolveKey(ctx, sessionID, relPrefix)
}

func (f *FileService) workspaceRoot(ctx context.Context, sessionID string) (string, error) {
	session, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", apperrors.SessionNotFound(sessionID)
	}
	key, err := workspaceKeyPrefix(session.WorkspacePath)
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("session %s has malformed workspace path %q: %w", sessionID, session.WorkspacePath, err))
	}
	return key, nil
}

// workspaceKeyPrefix strips the s3://<bucket>/ scheme and bucket segment
// off a workspace path, leaving the object-store key prefix.
func workspaceKeyPrefix(workspacePath string) (string, error) {
	const scheme = "s3://"
	if !strings.HasPrefix(workspacePath, scheme) {
		return "", fmt.Errorf("workspace path missing %s scheme", scheme)
	}
	rest := workspacePath[len(scheme):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", fmt.Errorf("workspace path missing bucket/key separator")
	}
	return rest[idx+1:], nil
}
