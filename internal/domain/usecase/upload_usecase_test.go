package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// TestSanitizeFileName covers the accepted and rejected name shapes.
func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "song.wav", want: "song.wav"},
		{in: "  my song  (live).mp3 ", want: "my_song_-live-.mp3"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\music\take 1.wav`, want: "take_1.wav"},
		{in: "música.flac", want: "m-sica.flac"},
		{in: strings.Repeat("a", 200) + ".wav", want: strings.Repeat("a", 128)},
		{in: "", wantErr: true},
		{in: ".hidden", wantErr: true},
		{in: "a..b.wav", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if tt.wantErr {
			var verr *entity.ValidationError
			if !errors.As(err, &verr) || verr.Code != "INVALID_FILE_NAME" {
				t.Errorf("SanitizeFileName(%q) error = %v, want INVALID_FILE_NAME", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

// TestCreateSignedUpload checks the object path layout and response.
func TestCreateSignedUpload(t *testing.T) {
	uc := NewUploadUseCase(newMemStore(), 1024, 15*time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.Now = func() time.Time { return now }

	target, err := uc.CreateSignedUpload(context.Background(), ownerA, UploadRequest{
		FileName: "My Song.wav", MimeType: "audio/wav", FileSize: 512,
	})
	if err != nil {
		t.Fatalf("CreateSignedUpload() error = %v", err)
	}

	pattern := regexp.MustCompile(`^` + ownerA.String() + `/audio/[0-9a-f]{32}_My_Song\.wav$`)
	if !pattern.MatchString(target.ObjectPath) {
		t.Fatalf("object path = %q", target.ObjectPath)
	}
	if target.Method != "PUT" || target.Headers["Content-Type"] != "audio/wav" {
		t.Fatalf("target = %+v", target)
	}
	if !target.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expiresAt = %v", target.ExpiresAt)
	}
	if !strings.Contains(target.URL, target.ObjectPath) {
		t.Fatalf("url %q does not point at %q", target.URL, target.ObjectPath)
	}
}

// TestCreateSignedUploadRejects covers the validation codes and status hints.
func TestCreateSignedUploadRejects(t *testing.T) {
	uc := NewUploadUseCase(newMemStore(), 1024, time.Minute)
	tests := []struct {
		name     string
		req      UploadRequest
		code     string
		tooLarge bool
	}{
		{"mime", UploadRequest{FileName: "a.wav", MimeType: "video/mp4", FileSize: 10}, "UNSUPPORTED_MEDIA_TYPE", false},
		{"empty file", UploadRequest{FileName: "a.wav", MimeType: "audio/wav", FileSize: 0}, "INVALID_FILE_SIZE", false},
		{"too large", UploadRequest{FileName: "a.wav", MimeType: "audio/wav", FileSize: 2048}, "UPLOAD_LIMIT_EXCEEDED", true},
		{"name", UploadRequest{FileName: "..", MimeType: "audio/wav", FileSize: 10}, "INVALID_FILE_NAME", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.CreateSignedUpload(context.Background(), ownerA, tt.req)
			var verr *entity.ValidationError
			if !errors.As(err, &verr) || verr.Code != tt.code || verr.TooLarge != tt.tooLarge {
				t.Fatalf("error = %#v, want %s (tooLarge=%v)", err, tt.code, tt.tooLarge)
			}
		})
	}
}

// TestCreateSignedUploadSignerDown maps signing failures to upstream errors.
func TestCreateSignedUploadSignerDown(t *testing.T) {
	store := newMemStore()
	store.signErr = errors.New("connection refused")
	uc := NewUploadUseCase(store, 1024, time.Minute)

	_, err := uc.CreateSignedUpload(context.Background(), ownerA, UploadRequest{FileName: "a.wav", MimeType: "audio/wav", FileSize: 10})
	if !errors.Is(err, entity.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}
}
