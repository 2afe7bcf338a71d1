// Package uploader transfers photo binaries to the time-limited storage
// locations handed out by the sync server.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/photo"
	"github.com/marcus/roofsync/internal/syncclient"
)

const (
	DefaultConcurrency = 3
	DefaultTimeout     = 5 * time.Minute
)

// ErrTargetExpired is returned when an upload authorisation has lapsed
var ErrTargetExpired = errors.New("upload authorisation expired")

// Store is the photo persistence the uploader reads and updates
type Store interface {
	GetPhoto(id string) (*models.Photo, error)
	GetPhotoPayload(id string) ([]byte, error)
	ListPhotosByUploadStatus(status models.UploadStatus) ([]models.Photo, error)
	MarkPhotoUploaded(id, storageURL string) error
	MarkPhotoUploadError(id, reason string) error
}

// Authorizer hands out fresh upload targets
type Authorizer interface {
	RequestPhotoUploads(ctx context.Context, photoIDs []string) ([]syncclient.PhotoUpload, error)
}

// ProgressFunc receives upload progress in percent. It may be called from
// several goroutines at once.
type ProgressFunc func(photoID string, percent int)

// Failure is one photo that could not be transferred
type Failure struct {
	PhotoID string
	Reason  string
	Err     error
}

// Result summarises an upload run
type Result struct {
	Uploaded []string
	Failed   []Failure
}

// Uploader transfers photo binaries with bounded concurrency
type Uploader struct {
	Store       Store
	Auth        Authorizer
	HTTP        *http.Client
	Concurrency int
	Timeout     time.Duration
	OnProgress  ProgressFunc

	now func() time.Time
}

// New creates an uploader with default limits
func New(store Store, auth Authorizer) *Uploader {
	return &Uploader{
		Store:       store,
		Auth:        auth,
		HTTP:        &http.Client{},
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultTimeout,
		now:         time.Now,
	}
}

// Upload transfers the photos named by targets, at most concurrency at a
// time. Individual failures are recorded on the photo and in the result;
// the returned error is only set when ctx ends before every item ran.
func (u *Uploader) Upload(ctx context.Context, targets []syncclient.PhotoUpload, concurrency int) (*Result, error) {
	if concurrency <= 0 {
		concurrency = u.Concurrency
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu  sync.Mutex
		res = &Result{}
		g   errgroup.Group
	)
	g.SetLimit(concurrency)

	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := u.uploadOne(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, Failure{PhotoID: t.PhotoID, Reason: err.Error(), Err: err})
				return nil
			}
			res.Uploaded = append(res.Uploaded, t.PhotoID)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("photo upload interrupted: %w", err)
	}
	return res, nil
}

// RetryFailed requests fresh targets for every photo in upload error and
// resubmits them
func (u *Uploader) RetryFailed(ctx context.Context) (*Result, error) {
	failed, err := u.Store.ListPhotosByUploadStatus(models.UploadError)
	if err != nil {
		return nil, fmt.Errorf("list failed photos: %w", err)
	}
	var ids []string
	for _, p := range failed {
		if !p.Deleted {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return &Result{}, nil
	}
	targets, err := u.Auth.RequestPhotoUploads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("request upload targets: %w", err)
	}
	return u.Upload(ctx, targets, u.Concurrency)
}

func (u *Uploader) progress(id string, pct int) {
	if u.OnProgress != nil {
		u.OnProgress(id, pct)
	}
}

func (u *Uploader) uploadOne(ctx context.Context, t syncclient.PhotoUpload) error {
	p, err := u.Store.GetPhoto(t.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo %s: %w", t.PhotoID, err)
	}
	if p.UploadStatus == models.UploadUploaded {
		return nil
	}

	fail := func(err error) error {
		if markErr := u.Store.MarkPhotoUploadError(p.ID, err.Error()); markErr != nil {
			slog.Warn("record photo upload error", "photo", p.ID, "err", markErr)
		}
		return err
	}

	payload, err := u.Store.GetPhotoPayload(p.ID)
	if err != nil {
		return fail(fmt.Errorf("load payload: %w", err))
	}
	if err := photo.Verify(payload, p.OriginalHash); err != nil {
		slog.Error("photo integrity check failed", "photo", p.ID, "err", err)
		return fail(err)
	}
	if now := u.clock(); !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
		return fail(fmt.Errorf("%w at %s", ErrTargetExpired, t.ExpiresAt.Format(time.RFC3339)))
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := t.Method
	if method == "" {
		method = http.MethodPut
	}
	u.progress(p.ID, 0)
	body := &progressReader{r: bytes.NewReader(payload), total: int64(len(payload)), report: func(pct int) {
		u.progress(p.ID, pct)
	}}
	req, err := http.NewRequestWithContext(itemCtx, method, t.UploadURL, body)
	if err != nil {
		return fail(fmt.Errorf("create upload request: %w", err))
	}
	req.ContentLength = int64(len(payload))
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	client := u.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("%w: upload photo: %w", syncclient.ErrNetwork, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("upload photo: storage returned HTTP %d", resp.StatusCode))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = stripQuery(t.UploadURL)
	}
	if err := u.Store.MarkPhotoUploaded(p.ID, location); err != nil {
		return fmt.Errorf("record upload of %s: %w", p.ID, err)
	}
	u.progress(p.ID, 100)
	slog.Debug("photo uploaded", "photo", p.ID, "bytes", len(payload))
	return nil
}

func (u *Uploader) clock() time.Time {
	if u.now == nil {
		return time.Now()
	}
	return u.now()
}

// stripQuery drops the signature part of a presigned URL
func stripQuery(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// progressReader reports the share of bytes read, once per whole percent
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		// 100 is reported once the storage service acknowledges
		if pct > p.last && pct < 100 {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
